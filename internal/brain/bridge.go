package brain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rgkrishnan/vaani/internal/session"
)

// ErrUnavailable marks a reasoning-component error or timeout. The engine
// treats it like any other unrecoverable Processing failure after retries.
var ErrUnavailable = errors.New("conversation bridge unavailable")

type RequestKind string

const (
	// KindOpen asks the bridge for the opening message of an outbound call,
	// generated from the notification or campaign payload.
	KindOpen RequestKind = "open"
	// KindTurn asks the bridge to answer the caller's latest utterance.
	KindTurn RequestKind = "turn"
)

// Request carries full conversation context on every invocation. The bridge
// is stateless across calls; per-call memory lives in the session's turns.
type Request struct {
	CallID       string
	Kind         RequestKind
	Persona      session.Persona
	Direction    session.Direction
	Turns        []session.Turn
	Campaign     *session.CampaignMetadata
	Notification *session.NotificationMetadata
}

// Signals are structured observations the bridge makes alongside its reply.
type Signals struct {
	// SensitiveInfo is set when the caller volunteered credentials (PIN,
	// OTP, full card or account number) in their latest utterance.
	SensitiveInfo bool `json:"sensitive_info"`
	// Intent is the bridge's free-form label for what the caller wants.
	Intent string `json:"intent,omitempty"`
	// Interest classifies a marketing reply: interested, not-interested, maybe.
	Interest string `json:"interest,omitempty"`
	// DeliveryConfirmed is set once a notification payload has been spoken.
	DeliveryConfirmed bool `json:"delivery_confirmed"`
}

type Reply struct {
	Text      string  `json:"text"`
	ShouldEnd bool    `json:"should_end"`
	Signals   Signals `json:"signals"`
}

// Bridge is the uniform surface to the conversational-reasoning component.
type Bridge interface {
	Respond(ctx context.Context, req Request) (Reply, error)
}

// Config controls bridge construction.
type Config struct {
	Mode    string
	HTTPURL string
}

func NewBridge(cfg Config) (Bridge, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.HTTPURL) != "" {
			return NewFallbackBridge(NewHTTPBridge(cfg.HTTPURL), NewMockBridge()), nil
		}
		return NewMockBridge(), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("bridge HTTP url is required for http mode")
		}
		return NewHTTPBridge(cfg.HTTPURL), nil
	case "mock":
		return NewMockBridge(), nil
	default:
		return nil, fmt.Errorf("unsupported bridge mode %q", cfg.Mode)
	}
}

// FallbackBridge prefers primary and falls back to secondary when the primary
// is unavailable, so a reasoning outage degrades replies instead of calls.
type FallbackBridge struct {
	primary   Bridge
	secondary Bridge
}

func NewFallbackBridge(primary, secondary Bridge) *FallbackBridge {
	return &FallbackBridge{primary: primary, secondary: secondary}
}

func (b *FallbackBridge) Respond(ctx context.Context, req Request) (Reply, error) {
	reply, err := b.primary.Respond(ctx, req)
	if err == nil {
		return reply, nil
	}
	if !errors.Is(err, ErrUnavailable) {
		return Reply{}, err
	}
	return b.secondary.Respond(ctx, req)
}
