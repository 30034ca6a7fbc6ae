package session

import "time"

type Direction string

const (
	DirectionInbound              Direction = "inbound"
	DirectionOutboundNotification Direction = "outbound-notification"
	DirectionOutboundMarketing    Direction = "outbound-marketing"
)

type Persona string

const (
	PersonaBank              Persona = "bank"
	PersonaInsurance         Persona = "insurance"
	PersonaFinancialServices Persona = "financial-services"
)

// ValidPersona normalizes free-form persona input to the closed set.
func ValidPersona(p string) Persona {
	switch Persona(p) {
	case PersonaBank, PersonaInsurance, PersonaFinancialServices:
		return Persona(p)
	default:
		return PersonaBank
	}
}

type State string

const (
	StateCreated       State = "created"
	StateGreeting      State = "greeting"
	StateAwaitingInput State = "awaiting-input"
	StateProcessing    State = "processing"
	StateResponding    State = "responding"
	StateEnding        State = "ending"
	StateTerminated    State = "terminated"
	StateFailed        State = "failed"
)

// transitions enumerates the legal lifecycle edges. Failed is reachable from
// any non-terminal state and is handled in CanTransition directly.
var transitions = map[State][]State{
	StateCreated:       {StateGreeting},
	StateGreeting:      {StateAwaitingInput, StateResponding, StateEnding},
	StateAwaitingInput: {StateProcessing, StateEnding},
	StateProcessing:    {StateResponding, StateEnding},
	StateResponding:    {StateAwaitingInput, StateEnding},
	StateEnding:        {StateTerminated},
	StateFailed:        {StateTerminated},
}

// CanTransition reports whether the edge from s to next is defined.
func (s State) CanTransition(next State) bool {
	if next == StateFailed {
		return s != StateTerminated && s != StateFailed
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further events can advance the session.
func (s State) Terminal() bool { return s == StateTerminated }

type Speaker string

const (
	SpeakerCaller Speaker = "caller"
	SpeakerAgent  Speaker = "agent"
)

// Turn is one utterance exchange recorded in session history.
type Turn struct {
	Speaker Speaker   `json:"speaker"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

type EndReason string

const (
	ReasonCompleted      EndReason = "completed"
	ReasonNoInput        EndReason = "no-input"
	ReasonSafetyRedirect EndReason = "safety-redirect"
	ReasonTimeout        EndReason = "timeout"
	ReasonTurnCap        EndReason = "turn-cap"
	ReasonDelivered      EndReason = "delivered"
	ReasonFailed         EndReason = "failed"
)

// CampaignMetadata describes the marketing context of an outbound call.
// Immutable after session creation.
type CampaignMetadata struct {
	CampaignID   string `json:"campaign_id"`
	CampaignName string `json:"campaign_name"`
	Segment      string `json:"segment,omitempty"`
	Objective    string `json:"objective,omitempty"`
}

// NotificationMetadata describes the payload of an outbound notification call.
type NotificationMetadata struct {
	NotificationType string `json:"notification_type"`
	Priority         string `json:"priority"`
	Message          string `json:"message"`
	ReferenceID      string `json:"reference_id,omitempty"`
}

// Outcome is populated exactly once at termination and handed to the recorder.
type Outcome struct {
	CallID      string        `json:"call_id"`
	Direction   Direction     `json:"direction"`
	Persona     Persona       `json:"persona"`
	Locale      string        `json:"locale"`
	Reason      EndReason     `json:"reason"`
	StartedAt   time.Time     `json:"started_at"`
	EndedAt     time.Time     `json:"ended_at"`
	Duration    time.Duration `json:"duration"`
	CallerTurns int           `json:"caller_turns"`
	AgentTurns  int           `json:"agent_turns"`

	// Marketing calls only.
	Interest string            `json:"interest,omitempty"`
	Campaign *CampaignMetadata `json:"campaign,omitempty"`

	// Notification calls only.
	Delivered    bool                  `json:"delivered,omitempty"`
	Notification *NotificationMetadata `json:"notification,omitempty"`
}

// CallSession is the full server-side state for one live phone call. Its
// fields are owned by whichever step currently holds the store's per-call
// gate; nothing else reads or writes them concurrently.
type CallSession struct {
	CallID     string    `json:"call_id"`
	Direction  Direction `json:"direction"`
	Persona    Persona   `json:"persona"`
	Locale     string    `json:"locale"`
	Voice      string    `json:"voice"`
	FromNumber string    `json:"from_number"`
	ToNumber   string    `json:"to_number"`

	State State `json:"state"`

	Turns []Turn `json:"turns"`

	Campaign     *CampaignMetadata     `json:"campaign,omitempty"`
	Notification *NotificationMetadata `json:"notification,omitempty"`

	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`

	NoInputCount   int    `json:"no_input_count"`
	SensitiveCount int    `json:"sensitive_count"`
	Interest       string `json:"interest,omitempty"`
	Delivered      bool   `json:"delivered,omitempty"`

	Outcome *Outcome `json:"outcome,omitempty"`
}

// Advance moves the session along a defined edge.
func (s *CallSession) Advance(next State) error {
	if !s.State.CanTransition(next) {
		return &InvalidTransitionError{From: s.State, To: next}
	}
	s.State = next
	return nil
}

// AppendTurn records an utterance; history is append-only.
func (s *CallSession) AppendTurn(speaker Speaker, text string, at time.Time) {
	s.Turns = append(s.Turns, Turn{Speaker: speaker, Text: text, At: at})
}

func (s *CallSession) CountTurns(speaker Speaker) int {
	n := 0
	for _, t := range s.Turns {
		if t.Speaker == speaker {
			n++
		}
	}
	return n
}

// FinalizeOutcome builds the termination record. Idempotent: the first call
// wins and later calls return the same outcome.
func (s *CallSession) FinalizeOutcome(reason EndReason, at time.Time) *Outcome {
	if s.Outcome != nil {
		return s.Outcome
	}
	s.Outcome = &Outcome{
		CallID:       s.CallID,
		Direction:    s.Direction,
		Persona:      s.Persona,
		Locale:       s.Locale,
		Reason:       reason,
		StartedAt:    s.CreatedAt,
		EndedAt:      at,
		Duration:     at.Sub(s.CreatedAt),
		CallerTurns:  s.CountTurns(SpeakerCaller),
		AgentTurns:   s.CountTurns(SpeakerAgent),
		Interest:     s.Interest,
		Campaign:     s.Campaign,
		Delivered:    s.Delivered,
		Notification: s.Notification,
	}
	return s.Outcome
}

type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid session transition from " + string(e.From) + " to " + string(e.To)
}
