package brain

import (
	"context"
	"fmt"
	"strings"

	"github.com/rgkrishnan/vaani/internal/session"
)

// MockBridge is a deterministic reasoning stand-in used when no reasoning
// service is configured, and by tests. It honors the same contract as a real
// bridge: sensitive-info signalling, interest classification, should_end.
type MockBridge struct{}

func NewMockBridge() *MockBridge { return &MockBridge{} }

func (b *MockBridge) Respond(_ context.Context, req Request) (Reply, error) {
	switch req.Kind {
	case KindOpen:
		return b.opening(req), nil
	default:
		return b.turn(req), nil
	}
}

func (b *MockBridge) opening(req Request) Reply {
	switch req.Direction {
	case session.DirectionOutboundNotification:
		msg := "This is a notification."
		if req.Notification != nil && req.Notification.Message != "" {
			msg = req.Notification.Message
		}
		return Reply{
			Text:      fmt.Sprintf("Hello, this is an automated call. %s Thank you.", msg),
			ShouldEnd: true,
			Signals:   Signals{DeliveryConfirmed: true},
		}
	case session.DirectionOutboundMarketing:
		name := "our service"
		if req.Campaign != nil && req.Campaign.CampaignName != "" {
			name = req.Campaign.CampaignName
		}
		return Reply{
			Text: fmt.Sprintf("Hello! I'm calling about %s. Would you be interested in learning more?", name),
		}
	default:
		return Reply{Text: "Welcome to our service. How may I help you today?"}
	}
}

func (b *MockBridge) turn(req Request) Reply {
	input := lastCallerText(req.Turns)
	lower := strings.ToLower(input)

	if volunteeredSensitive(lower) {
		return Reply{
			Text:    "Please do not share confidential details on this call.",
			Signals: Signals{SensitiveInfo: true},
		}
	}

	if req.Direction == session.DirectionOutboundMarketing {
		return Reply{
			Text:      "Thank you for your time. A specialist will follow up if you'd like.",
			ShouldEnd: true,
			Signals:   Signals{Interest: classifyInterest(lower)},
		}
	}

	switch {
	case strings.Contains(lower, "bye") || strings.Contains(lower, "thank"):
		return Reply{Text: "Thank you for calling. Goodbye.", ShouldEnd: true}
	case strings.Contains(lower, "balance"):
		return Reply{Text: "For your account balance, please use our mobile app or visit any A T M. Is there anything else I can help you with?"}
	case strings.Contains(lower, "branch"):
		return Reply{Text: "I can help you find the nearest branch. Which city are you in?"}
	default:
		return Reply{Text: "Could you tell me a little more about what you need help with?"}
	}
}

func lastCallerText(turns []session.Turn) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Speaker == session.SpeakerCaller {
			return turns[i].Text
		}
	}
	return ""
}

func volunteeredSensitive(lower string) bool {
	if !strings.ContainsAny(lower, "0123456789") {
		return false
	}
	for _, kw := range []string{"pin", "otp", "cvv", "card number", "account number", "password"} {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// classifyInterest mirrors what a real bridge derives from the prospect's
// natural-language reply.
func classifyInterest(lower string) string {
	switch {
	case lower == "":
		return "no-response"
	// Negations first: "not interested" contains "interested".
	case containsAnyWord(lower, "no", "nope", "never") || strings.Contains(lower, "not interested") || strings.Contains(lower, "not now"):
		return "not-interested"
	case containsAnyWord(lower, "yes", "yeah", "sure", "okay", "ok", "interested", "definitely", "absolutely"):
		return "interested"
	case containsAnyWord(lower, "maybe", "perhaps", "might", "later") || strings.Contains(lower, "think about"):
		return "maybe"
	default:
		return "unsure"
	}
}

func containsAnyWord(s string, words ...string) bool {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	for _, w := range words {
		if _, ok := set[w]; ok {
			return true
		}
	}
	return false
}
