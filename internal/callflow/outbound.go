package callflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rgkrishnan/vaani/internal/brain"
	"github.com/rgkrishnan/vaani/internal/ccml"
	"github.com/rgkrishnan/vaani/internal/session"
	"github.com/rgkrishnan/vaani/internal/speech"
	"github.com/rgkrishnan/vaani/internal/telephony"
)

// NotificationRequest asks the engine to place an outbound delivery call.
type NotificationRequest struct {
	ToNumber         string `json:"to_number"`
	Persona          string `json:"persona,omitempty"`
	Locale           string `json:"locale,omitempty"`
	NotificationType string `json:"notification_type"`
	Priority         string `json:"priority"`
	Message          string `json:"message"`
	ReferenceID      string `json:"reference_id,omitempty"`
}

// MarketingRequest asks the engine to place an outbound campaign call.
type MarketingRequest struct {
	ToNumber     string `json:"to_number"`
	Persona      string `json:"persona,omitempty"`
	Locale       string `json:"locale,omitempty"`
	CampaignID   string `json:"campaign_id"`
	CampaignName string `json:"campaign_name"`
	Segment      string `json:"segment,omitempty"`
	Objective    string `json:"objective,omitempty"`
}

// InitiateNotification places the call and registers its session in Created
// state. The provider drives the rest through the answered-call webhook.
func (e *Engine) InitiateNotification(ctx context.Context, req NotificationRequest) (string, error) {
	if req.ToNumber == "" {
		return "", errors.New("to_number is required")
	}
	if req.Message == "" {
		return "", errors.New("notification message is required")
	}
	return e.placeOutbound(ctx, session.DirectionOutboundNotification, req.ToNumber, req.Persona, req.Locale,
		func(s *session.CallSession) {
			s.Notification = &session.NotificationMetadata{
				NotificationType: req.NotificationType,
				Priority:         req.Priority,
				Message:          req.Message,
				ReferenceID:      req.ReferenceID,
			}
		},
		e.cfg.PublicBaseURL+"/telephony/outbound/notification/handle",
	)
}

// InitiateMarketing places a campaign call and registers its session.
func (e *Engine) InitiateMarketing(ctx context.Context, req MarketingRequest) (string, error) {
	if req.ToNumber == "" {
		return "", errors.New("to_number is required")
	}
	if req.CampaignName == "" {
		return "", errors.New("campaign name is required")
	}
	return e.placeOutbound(ctx, session.DirectionOutboundMarketing, req.ToNumber, req.Persona, req.Locale,
		func(s *session.CallSession) {
			s.Campaign = &session.CampaignMetadata{
				CampaignID:   req.CampaignID,
				CampaignName: req.CampaignName,
				Segment:      req.Segment,
				Objective:    req.Objective,
			}
		},
		e.cfg.PublicBaseURL+"/telephony/outbound/marketing/handle",
	)
}

func (e *Engine) placeOutbound(
	ctx context.Context,
	direction session.Direction,
	toNumber, persona, locale string,
	attach func(*session.CallSession),
	answerURL string,
) (string, error) {
	if e.dialer == nil {
		return "", errors.New("outbound dialing is not configured")
	}
	placed, err := e.dialer.PlaceCall(ctx, telephony.PlaceCallRequest{
		ToNumber:          toNumber,
		AnswerURL:         answerURL,
		StatusCallbackURL: e.cfg.PublicBaseURL + "/telephony/events",
	})
	if err != nil {
		return "", fmt.Errorf("place outbound call: %w", err)
	}

	if locale == "" {
		locale = e.cfg.DefaultLocale
	}
	_, created := e.store.GetOrCreate(placed.CallID, func() *session.CallSession {
		now := time.Now().UTC()
		s := &session.CallSession{
			CallID:         placed.CallID,
			Direction:      direction,
			Persona:        session.ValidPersona(persona),
			Locale:         locale,
			Voice:          speech.VoiceForLocale(locale, e.cfg.DefaultVoice),
			ToNumber:       toNumber,
			State:          session.StateCreated,
			CreatedAt:      now,
			LastActivityAt: now,
		}
		attach(s)
		return s
	})
	if !created {
		return "", fmt.Errorf("call id %s already has an active session", placed.CallID)
	}
	e.countEvent("outbound_" + string(direction))
	e.setActiveGauge()
	return placed.CallID, nil
}

// HandleNotificationAnswered runs the answered-call webhook for a delivery
// call: one bridge-generated opening that carries the payload, then hangup.
// The session passes through Responding to Ending in a single step.
func (e *Engine) HandleNotificationAnswered(ctx context.Context, callID string) (resp *ccml.Response) {
	defer e.recoverStep(callID, &resp)
	e.countEvent("notification_answered")

	err := e.store.Step(callID, func(s *session.CallSession) error {
		if s.State != session.StateCreated {
			resp = ccml.New().Hangup()
			return nil
		}
		if err := s.Advance(session.StateGreeting); err != nil {
			return err
		}
		e.publish(s, "state", "", "")

		reply, err := e.respondWithRetry(ctx, brain.Request{
			CallID:       s.CallID,
			Kind:         brain.KindOpen,
			Persona:      s.Persona,
			Direction:    s.Direction,
			Notification: s.Notification,
		})
		if err != nil {
			resp = e.failSession(s, fmt.Errorf("bridge open: %w", err))
			return nil
		}

		if err := s.Advance(session.StateResponding); err != nil {
			return err
		}
		s.AppendTurn(session.SpeakerAgent, reply.Text, time.Now().UTC())
		e.publish(s, "turn", string(session.SpeakerAgent), reply.Text)
		reason := session.ReasonCompleted
		if reply.Signals.DeliveryConfirmed {
			s.Delivered = true
			reason = session.ReasonDelivered
		}
		resp = e.endCall(ctx, s, reason, reply.Text)
		return nil
	})
	if errors.Is(err, session.ErrNotFound) {
		return e.unknownCallResponse()
	}
	if err != nil {
		return e.failStep(callID, err)
	}
	return resp
}

// HandleMarketingAnswered runs the answered-call webhook for a campaign call:
// the bridge generates the opener from campaign metadata, then the caller's
// response is gathered on the marketing leg.
func (e *Engine) HandleMarketingAnswered(ctx context.Context, callID string) (resp *ccml.Response) {
	defer e.recoverStep(callID, &resp)
	e.countEvent("marketing_answered")

	err := e.store.Step(callID, func(s *session.CallSession) error {
		if s.State != session.StateCreated {
			resp = e.currentPrompt(s)
			return nil
		}
		if err := s.Advance(session.StateGreeting); err != nil {
			return err
		}
		e.publish(s, "state", "", "")

		reply, err := e.respondWithRetry(ctx, brain.Request{
			CallID:    s.CallID,
			Kind:      brain.KindOpen,
			Persona:   s.Persona,
			Direction: s.Direction,
			Campaign:  s.Campaign,
		})
		if err != nil {
			resp = e.failSession(s, fmt.Errorf("bridge open: %w", err))
			return nil
		}

		doc := ccml.New()
		e.speakInto(ctx, doc, s, reply.Text)
		doc.Gather(e.marketingGatherURL(s.CallID), e.cfg.GatherTimeoutSec)
		doc.Say("Thank you for your time. Goodbye.", s.Voice, s.Locale)
		doc.Hangup()

		s.AppendTurn(session.SpeakerAgent, reply.Text, time.Now().UTC())
		if err := s.Advance(session.StateAwaitingInput); err != nil {
			return err
		}
		e.publish(s, "turn", string(session.SpeakerAgent), reply.Text)
		resp = doc
		return nil
	})
	if errors.Is(err, session.ErrNotFound) {
		return e.unknownCallResponse()
	}
	if err != nil {
		return e.failStep(callID, err)
	}
	return resp
}

// HandleMarketingGather processes the campaign callee's reply. Silence ends
// the call with the no-response classification instead of re-prompting twice;
// an unsolicited call does not get badgered.
func (e *Engine) HandleMarketingGather(ctx context.Context, callID, speechResult, digits string) (resp *ccml.Response) {
	defer e.recoverStep(callID, &resp)
	e.countEvent("marketing_gather")

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
			s.NoInputCount++
			if s.NoInputCount > 1 {
				s.Interest = "no-response"
				resp = e.endCall(ctx, s, session.ReasonNoInput, "Thank you for your time. Goodbye.")
				return nil
			}
			doc := ccml.New()
			doc.GatherWithPrompt("Sorry, I didn't catch that. Are you interested?", s.Voice, s.Locale,
				e.marketingGatherURL(s.CallID), e.cfg.GatherTimeoutSec)
			doc.Say("Thank you for your time. Goodbye.", s.Voice, s.Locale)
			doc.Hangup()
			resp = doc
			return nil
		}
		resp = e.stepCallerTurn(ctx, s, input, e.marketingGatherURL(s.CallID))
		return nil
	})
	if errors.Is(err, session.ErrNotFound) {
		return e.unknownCallResponse()
	}
	if err != nil {
		return e.failStep(callID, err)
	}
	return resp
}

func (e *Engine) unknownCallResponse() *ccml.Response {
	return ccml.New().
		Say(fallbackApology, e.cfg.DefaultVoice, e.cfg.DefaultLocale).
		Hangup()
}
