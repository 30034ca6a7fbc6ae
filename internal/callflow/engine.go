package callflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/rgkrishnan/vaani/internal/brain"
	"github.com/rgkrishnan/vaani/internal/ccml"
	"github.com/rgkrishnan/vaani/internal/observability"
	"github.com/rgkrishnan/vaani/internal/outcome"
	"github.com/rgkrishnan/vaani/internal/policy"
	"github.com/rgkrishnan/vaani/internal/reliability"
	"github.com/rgkrishnan/vaani/internal/session"
	"github.com/rgkrishnan/vaani/internal/speech"
	"github.com/rgkrishnan/vaani/internal/telephony"
)

// fallbackApology is the scripted phrase spoken on any unrecoverable failure
// before hanging up. The caller never hears silence or a dropped line.
const fallbackApology = "I apologize, we're experiencing technical difficulties. Please try again later. Goodbye."

const goodbyeMessage = "Thank you for calling. Goodbye."

var greetings = map[session.Persona]string{
	session.PersonaBank:              "Welcome to our bank. How may I help you today?",
	session.PersonaInsurance:         "Welcome to our insurance services. How may I help you today?",
	session.PersonaFinancialServices: "Welcome to our financial services desk. How may I help you today?",
}

// Config carries the engine's policy constants. All values are bounded; no
// unbounded wait exists anywhere in the per-event path.
type Config struct {
	PublicBaseURL string

	DefaultPersona session.Persona
	DefaultLocale  string
	DefaultVoice   string

	MaxTurns           int
	NoInputRetries     int
	SensitiveInfoLimit int

	SpeechRetries int
	BridgeRetries int
	SpeechTimeout time.Duration
	BridgeTimeout time.Duration
	BackoffBase   time.Duration
	BackoffCap    time.Duration

	GatherTimeoutSec int
}

func (c *Config) applyDefaults() {
	if c.DefaultPersona == "" {
		c.DefaultPersona = session.PersonaBank
	}
	if c.DefaultLocale == "" {
		c.DefaultLocale = "en-IN"
	}
	if c.MaxTurns <= 0 {
		c.MaxTurns = 20
	}
	if c.SensitiveInfoLimit <= 0 {
		c.SensitiveInfoLimit = 3
	}
	if c.SpeechTimeout <= 0 {
		c.SpeechTimeout = 8 * time.Second
	}
	if c.BridgeTimeout <= 0 {
		c.BridgeTimeout = 10 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 150 * time.Millisecond
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = time.Second
	}
	if c.GatherTimeoutSec <= 0 {
		c.GatherTimeoutSec = 5
	}
}

// MonitorEvent is pushed to the live diagnostics stream as a call progresses.
type MonitorEvent struct {
	CallID  string        `json:"call_id"`
	Type    string        `json:"type"`
	State   session.State `json:"state"`
	Speaker string        `json:"speaker,omitempty"`
	Text    string        `json:"text,omitempty"`
	At      time.Time     `json:"at"`
}

// Monitor receives call progress events. Implementations must not block.
type Monitor interface {
	Publish(ev MonitorEvent)
}

// Engine is the per-call state machine. Each webhook event is one serialized
// step against the session owned by the store's per-call gate; every step
// returns well-formed call-control markup, including on failure paths.
type Engine struct {
	store    *session.Store
	bridge   brain.Bridge
	synth    speech.Synthesizer
	recorder outcome.Recorder
	dialer   telephony.Dialer
	metrics  *observability.Metrics
	monitor  Monitor
	cfg      Config
}

func NewEngine(
	store *session.Store,
	bridge brain.Bridge,
	synth speech.Synthesizer,
	recorder outcome.Recorder,
	dialer telephony.Dialer,
	metrics *observability.Metrics,
	monitor Monitor,
	cfg Config,
) *Engine {
	cfg.applyDefaults()
	return &Engine{
		store:    store,
		bridge:   bridge,
		synth:    synth,
		recorder: recorder,
		dialer:   dialer,
		metrics:  metrics,
		monitor:  monitor,
		cfg:      cfg,
	}
}

// HandleIncoming processes the initial webhook of an inbound call. Creation
// is idempotent: a provider retry for a known call re-renders the current
// prompt instead of re-greeting.
func (e *Engine) HandleIncoming(ctx context.Context, callID, from, to string) (resp *ccml.Response) {
	defer e.recoverStep(callID, &resp)

	s, created := e.store.GetOrCreate(callID, func() *session.CallSession {
		now := time.Now().UTC()
		locale := e.cfg.DefaultLocale
		return &session.CallSession{
			CallID:         callID,
			Direction:      session.DirectionInbound,
			Persona:        e.cfg.DefaultPersona,
			Locale:         locale,
			Voice:          speech.VoiceForLocale(locale, e.cfg.DefaultVoice),
			FromNumber:     from,
			ToNumber:       to,
			State:          session.StateCreated,
			CreatedAt:      now,
			LastActivityAt: now,
		}
	})
	if created {
		e.countEvent("incoming")
		e.setActiveGauge()
	} else {
		e.countEvent("incoming_duplicate")
	}

	err := e.store.StepSession(s, func(s *session.CallSession) error {
		if !created {
			resp = e.currentPrompt(s)
			return nil
		}
		if err := s.Advance(session.StateGreeting); err != nil {
			return err
		}
		e.publish(s, "state", "", "")

		greeting := greetings[s.Persona]
		doc := ccml.New()
		e.speakInto(ctx, doc, s, greeting)
		doc.Gather(e.gatherURL(s.CallID), e.cfg.GatherTimeoutSec)
		doc.Say("I didn't catch that. Please try again.", s.Voice, s.Locale)
		doc.Redirect(e.gatherURL(s.CallID))

		s.AppendTurn(session.SpeakerAgent, greeting, time.Now().UTC())
		if err := s.Advance(session.StateAwaitingInput); err != nil {
			return err
		}
		e.publish(s, "turn", string(session.SpeakerAgent), greeting)
		resp = doc
		return nil
	})
	if err != nil {
		return e.failStep(callID, err)
	}
	return resp
}

// HandleGather processes a speech-result webhook: one full caller turn
// through the bridge and synthesis, or the no-input re-prompt path.
func (e *Engine) HandleGather(ctx context.Context, callID, speechResult, digits string) (resp *ccml.Response) {
	defer e.recoverStep(callID, &resp)
	e.countEvent("gather")

	input := speechResult
	if input == "" {
		input = digits
	}

	err := e.store.Step(callID, func(s *session.CallSession) error {
		switch s.State {
		case session.StateEnding, session.StateFailed, session.StateTerminated:
			resp = ccml.New().Hangup()
			return nil
		}

		if input == "" {
			resp = e.stepNoInput(ctx, s, e.gatherURL(s.CallID))
			return nil
		}
		resp = e.stepCallerTurn(ctx, s, input, e.gatherURL(s.CallID))
		return nil
	})
	if errors.Is(err, session.ErrNotFound) {
		// Benign race between hangup cleanup and a late speech result.
		log.Printf("gather for unknown call %s (already cleaned up)", callID)
		return ccml.New().Say(goodbyeMessage, e.cfg.DefaultVoice, e.cfg.DefaultLocale).Hangup()
	}
	if err != nil {
		return e.failStep(callID, err)
	}
	return resp
}

// stepNoInput re-prompts after silence, ending the call with reason no-input
// once the retry limit is exceeded. The session stays in AwaitingInput.
func (e *Engine) stepNoInput(ctx context.Context, s *session.CallSession, gatherAction string) *ccml.Response {
	s.NoInputCount++
	if s.NoInputCount > e.cfg.NoInputRetries {
		return e.endCall(ctx, s, session.ReasonNoInput, "I didn't receive any input. Goodbye.")
	}
	doc := ccml.New()
	doc.GatherWithPrompt("I didn't catch that. Could you please repeat?", s.Voice, s.Locale,
		gatherAction, e.cfg.GatherTimeoutSec)
	doc.Say(goodbyeMessage, s.Voice, s.Locale)
	doc.Hangup()
	return doc
}

// stepCallerTurn runs Processing and Responding for one utterance.
func (e *Engine) stepCallerTurn(ctx context.Context, s *session.CallSession, input, gatherAction string) *ccml.Response {
	started := time.Now()
	if err := s.Advance(session.StateProcessing); err != nil {
		return e.failSession(s, err)
	}
	s.NoInputCount = 0
	s.AppendTurn(session.SpeakerCaller, input, time.Now().UTC())
	e.publish(s, "turn", string(session.SpeakerCaller), input)

	reply, err := e.respondWithRetry(ctx, brain.Request{
		CallID:       s.CallID,
		Kind:         brain.KindTurn,
		Persona:      s.Persona,
		Direction:    s.Direction,
		Turns:        s.Turns,
		Campaign:     s.Campaign,
		Notification: s.Notification,
	})
	if err != nil {
		return e.failSession(s, fmt.Errorf("bridge: %w", err))
	}

	// Safety policy: the fixed redirection overrides whatever the bridge
	// said whenever sensitive info was volunteered, whether the bridge
	// caught it or our own detector did.
	text := reply.Text
	endReason := session.ReasonCompleted
	if reply.Signals.SensitiveInfo || policy.ContainsSensitiveInfo(input) {
		text = policy.RedirectionMessage
		s.SensitiveCount++
		if e.metrics != nil {
			e.metrics.SafetyRedirects.Inc()
		}
		if s.SensitiveCount >= e.cfg.SensitiveInfoLimit {
			reply.ShouldEnd = true
			endReason = session.ReasonSafetyRedirect
		}
	}
	if reply.Signals.Interest != "" {
		s.Interest = reply.Signals.Interest
	}
	if reply.Signals.DeliveryConfirmed {
		s.Delivered = true
	}

	if err := s.Advance(session.StateResponding); err != nil {
		return e.failSession(s, err)
	}
	s.AppendTurn(session.SpeakerAgent, text, time.Now().UTC())
	e.publish(s, "turn", string(session.SpeakerAgent), text)
	if e.metrics != nil {
		e.metrics.ObserveTurnLatency(time.Since(started))
	}

	atCap := len(s.Turns) >= e.cfg.MaxTurns
	if reply.ShouldEnd || atCap {
		if atCap && !reply.ShouldEnd {
			endReason = session.ReasonTurnCap
		}
		if s.Direction == session.DirectionOutboundNotification && s.Delivered {
			endReason = session.ReasonDelivered
		}
		return e.endCall(ctx, s, endReason, text)
	}

	doc := ccml.New()
	e.speakInto(ctx, doc, s, text)
	doc.Gather(gatherAction, e.cfg.GatherTimeoutSec)
	doc.Say(goodbyeMessage, s.Voice, s.Locale)
	doc.Hangup()

	if err := s.Advance(session.StateAwaitingInput); err != nil {
		return e.failSession(s, err)
	}
	return doc
}

// HandleStatus processes asynchronous provider status callbacks. Terminal
// statuses finalize the session; duplicates and unknown calls are no-ops.
func (e *Engine) HandleStatus(ctx context.Context, callID, callStatus string) {
	e.countEvent("status_" + callStatus)
	switch callStatus {
	case "completed", "failed", "busy", "no-answer":
	default:
		return
	}

	err := e.store.Step(callID, func(s *session.CallSession) error {
		reason := session.ReasonCompleted
		if callStatus != "completed" {
			reason = session.ReasonFailed
		}
		if s.Direction == session.DirectionOutboundNotification && s.Delivered {
			reason = session.ReasonDelivered
		}
		e.terminate(s, reason)
		return nil
	})
	if errors.Is(err, session.ErrNotFound) {
		// Duplicate terminal event for an evicted session.
		return
	}
	if err != nil {
		log.Printf("status callback for %s: %v", callID, err)
	}
}

// ExpireIdle is the janitor hook: an abandoned call is forced to Ending with
// reason timeout, bounding resource use. The janitor selects candidates
// outside the step gate, so idleness is re-checked inside it; a caller event
// that slipped in keeps the call alive.
func (e *Engine) ExpireIdle(s *session.CallSession) {
	err := e.store.StepIfIdle(s.CallID, func(s *session.CallSession) error {
		e.countEvent("idle_timeout")
		e.terminate(s, session.ReasonTimeout)
		return nil
	})
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		log.Printf("idle expiry for %s: %v", s.CallID, err)
	}
}

// endCall speaks the final text, emits hangup markup, and finalizes. Always
// called with the session's step gate held.
func (e *Engine) endCall(ctx context.Context, s *session.CallSession, reason session.EndReason, finalText string) *ccml.Response {
	doc := ccml.New()
	if finalText != "" {
		e.speakInto(ctx, doc, s, finalText)
	}
	if finalText != goodbyeMessage && reason != session.ReasonNoInput {
		doc.Pause(1)
		doc.Say(goodbyeMessage, s.Voice, s.Locale)
	}
	doc.Hangup()

	if s.State.CanTransition(session.StateEnding) {
		_ = s.Advance(session.StateEnding)
	}
	e.terminate(s, reason)
	return doc
}

// terminate performs the exactly-once finalization: outcome capture, metrics
// recording, store eviction. Safe to call repeatedly.
func (e *Engine) terminate(s *session.CallSession, reason session.EndReason) {
	alreadyFinal := s.Outcome != nil
	o := s.FinalizeOutcome(reason, time.Now().UTC())
	if s.State != session.StateTerminated {
		if s.State.CanTransition(session.StateTerminated) {
			_ = s.Advance(session.StateTerminated)
		} else {
			_ = s.Advance(session.StateFailed)
			_ = s.Advance(session.StateTerminated)
		}
	}
	e.store.Remove(s.CallID)
	e.setActiveGauge()
	e.publish(s, "terminated", "", string(o.Reason))

	if alreadyFinal {
		return
	}
	if e.metrics != nil {
		e.metrics.CallOutcomes.WithLabelValues(string(o.Direction), string(o.Reason)).Inc()
	}
	if e.recorder == nil {
		return
	}
	// Outcome persistence never blocks the hangup path; failures are logged
	// and the call ends cleanly regardless.
	outcomeCopy := *o
	go func() {
		recCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.recorder.Record(recCtx, outcomeCopy); err != nil {
			log.Printf("outcome record failed for %s: %v", outcomeCopy.CallID, err)
		}
	}()
}

// respondWithRetry invokes the bridge inside the retry budget with a bounded
// timeout per attempt.
func (e *Engine) respondWithRetry(ctx context.Context, req brain.Request) (brain.Reply, error) {
	var lastErr error
	for attempt := 0; attempt <= e.cfg.BridgeRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(reliability.ExponentialBackoff(attempt-1, e.cfg.BackoffBase, e.cfg.BackoffCap))
		}
		attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.BridgeTimeout)
		reply, err := e.bridge.Respond(attemptCtx, req)
		cancel()
		if err == nil {
			return reply, nil
		}
		lastErr = err
		e.countProviderError("bridge", err)
		if !reliability.IsRetryable(err) {
			break
		}
	}
	return brain.Reply{}, lastErr
}

// speakInto synthesizes text into a Play directive, degrading to a provider
// Say directive when synthesis is unavailable after retries. Either way the
// markup is valid and the caller hears the text.
func (e *Engine) speakInto(ctx context.Context, doc *ccml.Response, s *session.CallSession, text string) {
	sanitized := speech.SanitizeForSpeech(text, s.Locale)
	if sanitized == "" {
		return
	}

	var lastErr error
	for attempt := 0; attempt <= e.cfg.SpeechRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(reliability.ExponentialBackoff(attempt-1, e.cfg.BackoffBase, e.cfg.BackoffCap))
		}
		attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.SpeechTimeout)
		handle, err := e.synth.Synthesize(attemptCtx, sanitized, s.Voice, s.Locale)
		cancel()
		if err == nil {
			doc.Play(e.audioURL(handle))
			return
		}
		lastErr = err
		e.countProviderError("speech", err)
		if !reliability.IsRetryable(err) {
			break
		}
	}
	log.Printf("synthesis degraded to provider voice for %s: %v", s.CallID, lastErr)
	doc.Say(sanitized, s.Voice, s.Locale)
}

// failSession transitions to Failed and emits the scripted apology. Held gate.
func (e *Engine) failSession(s *session.CallSession, cause error) *ccml.Response {
	log.Printf("call %s failed in state %s: %v", s.CallID, s.State, cause)
	if s.State.CanTransition(session.StateFailed) {
		_ = s.Advance(session.StateFailed)
	}
	doc := ccml.New().Say(fallbackApology, s.Voice, s.Locale).Hangup()
	e.terminate(s, session.ReasonFailed)
	return doc
}

// failStep is the fallback for errors surfacing outside a held gate.
func (e *Engine) failStep(callID string, cause error) *ccml.Response {
	log.Printf("step failed for call %s: %v", callID, cause)
	_ = e.store.Step(callID, func(s *session.CallSession) error {
		e.terminate(s, session.ReasonFailed)
		return nil
	})
	return ccml.New().Say(fallbackApology, e.cfg.DefaultVoice, e.cfg.DefaultLocale).Hangup()
}

// recoverStep converts a panic inside a handler into the scripted fallback
// response so one bad step never crashes the process or strands the call.
func (e *Engine) recoverStep(callID string, resp **ccml.Response) {
	if r := recover(); r != nil {
		log.Printf("panic in step for call %s: %v", callID, r)
		*resp = ccml.New().Say(fallbackApology, e.cfg.DefaultVoice, e.cfg.DefaultLocale).Hangup()
	}
}

// currentPrompt re-renders the markup matching the session's present state,
// used for duplicate creation webhooks.
func (e *Engine) currentPrompt(s *session.CallSession) *ccml.Response {
	switch s.State {
	case session.StateEnding, session.StateFailed, session.StateTerminated:
		return ccml.New().Hangup()
	default:
		doc := ccml.New()
		doc.Gather(e.gatherURL(s.CallID), e.cfg.GatherTimeoutSec)
		doc.Say("I didn't catch that. Please try again.", s.Voice, s.Locale)
		doc.Redirect(e.gatherURL(s.CallID))
		return doc
	}
}

func (e *Engine) gatherURL(callID string) string {
	return e.cfg.PublicBaseURL + "/telephony/gather/" + callID
}

func (e *Engine) marketingGatherURL(callID string) string {
	return e.cfg.PublicBaseURL + "/telephony/outbound/marketing/gather/" + callID
}

func (e *Engine) audioURL(h speech.AudioHandle) string {
	return e.cfg.PublicBaseURL + "/audio/" + h.Name
}

func (e *Engine) countEvent(name string) {
	if e.metrics != nil {
		e.metrics.CallEvents.WithLabelValues(name).Inc()
	}
}

func (e *Engine) countProviderError(provider string, err error) {
	if e.metrics == nil {
		return
	}
	kind := "error"
	if errors.Is(err, context.DeadlineExceeded) {
		kind = "timeout"
	}
	e.metrics.ProviderErrors.WithLabelValues(provider, kind).Inc()
}

func (e *Engine) setActiveGauge() {
	if e.metrics != nil {
		e.metrics.ActiveCalls.Set(float64(e.store.ActiveCount()))
	}
}

func (e *Engine) publish(s *session.CallSession, evType, speaker, text string) {
	if e.monitor == nil {
		return
	}
	e.monitor.Publish(MonitorEvent{
		CallID:  s.CallID,
		Type:    evType,
		State:   s.State,
		Speaker: speaker,
		Text:    text,
		At:      time.Now().UTC(),
	})
}
