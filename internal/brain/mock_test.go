package brain

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rgkrishnan/vaani/internal/session"
)

func turnsWith(callerText string) []session.Turn {
	return []session.Turn{
		{Speaker: session.SpeakerAgent, Text: "Welcome.", At: time.Now()},
		{Speaker: session.SpeakerCaller, Text: callerText, At: time.Now()},
	}
}

func TestMockNotificationOpening(t *testing.T) {
	b := NewMockBridge()
	reply, err := b.Respond(context.Background(), Request{
		Kind:      KindOpen,
		Direction: session.DirectionOutboundNotification,
		Notification: &session.NotificationMetadata{
			NotificationType: "payment_reminder",
			Message:          "Your EMI payment is due tomorrow.",
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(reply.Text, "Your EMI payment is due tomorrow.") {
		t.Fatalf("payload not delivered: %q", reply.Text)
	}
	if !reply.ShouldEnd {
		t.Fatal("notification opening should end the call")
	}
	if !reply.Signals.DeliveryConfirmed {
		t.Fatal("delivery not confirmed")
	}
}

func TestMockMarketingOpening(t *testing.T) {
	b := NewMockBridge()
	reply, err := b.Respond(context.Background(), Request{
		Kind:      KindOpen,
		Direction: session.DirectionOutboundMarketing,
		Campaign:  &session.CampaignMetadata{CampaignName: "Gold Savings Account"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(reply.Text, "Gold Savings Account") {
		t.Fatalf("campaign name missing: %q", reply.Text)
	}
	if reply.ShouldEnd {
		t.Fatal("marketing opening must wait for the prospect's answer")
	}
}

func TestMockSensitiveSignal(t *testing.T) {
	b := NewMockBridge()
	reply, err := b.Respond(context.Background(), Request{
		Kind:      KindTurn,
		Direction: session.DirectionInbound,
		Turns:     turnsWith("my otp is 123456"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !reply.Signals.SensitiveInfo {
		t.Fatal("sensitive info not flagged")
	}
}

func TestMockInterestClassification(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{"yes, sounds great", "interested"},
		{"sure why not", "interested"},
		{"no thanks", "not-interested"},
		{"i am not interested", "not-interested"},
		{"maybe later", "maybe"},
		{"hmm tell my accountant", "unsure"},
	}
	b := NewMockBridge()
	for _, c := range cases {
		reply, err := b.Respond(context.Background(), Request{
			Kind:      KindTurn,
			Direction: session.DirectionOutboundMarketing,
			Turns:     turnsWith(c.input),
		})
		if err != nil {
			t.Fatal(err)
		}
		if reply.Signals.Interest != c.want {
			t.Errorf("interest for %q = %q, want %q", c.input, reply.Signals.Interest, c.want)
		}
		if !reply.ShouldEnd {
			t.Errorf("marketing turn for %q should end the call", c.input)
		}
	}
}

func TestMockFarewellEndsCall(t *testing.T) {
	b := NewMockBridge()
	reply, err := b.Respond(context.Background(), Request{
		Kind:      KindTurn,
		Direction: session.DirectionInbound,
		Turns:     turnsWith("thank you, bye"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !reply.ShouldEnd {
		t.Fatal("farewell should end the call")
	}
}

type failingBridge struct{ err error }

func (b failingBridge) Respond(context.Context, Request) (Reply, error) { return Reply{}, b.err }

func TestFallbackBridge(t *testing.T) {
	fb := NewFallbackBridge(failingBridge{err: ErrUnavailable}, NewMockBridge())
	reply, err := fb.Respond(context.Background(), Request{Kind: KindTurn, Turns: turnsWith("hello")})
	if err != nil {
		t.Fatalf("fallback not used: %v", err)
	}
	if reply.Text == "" {
		t.Fatal("empty fallback reply")
	}

	permanent := NewFallbackBridge(failingBridge{err: context.Canceled}, NewMockBridge())
	if _, err := permanent.Respond(context.Background(), Request{Kind: KindTurn}); err == nil {
		t.Fatal("non-availability errors must not fall back")
	}
}

func TestNewBridgeModes(t *testing.T) {
	if _, err := NewBridge(Config{Mode: "http"}); err == nil {
		t.Fatal("http mode without url should fail")
	}
	if _, err := NewBridge(Config{Mode: "banana"}); err == nil {
		t.Fatal("unknown mode should fail")
	}
	b, err := NewBridge(Config{Mode: "auto"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := b.(*MockBridge); !ok {
		t.Fatalf("auto without url should pick mock, got %T", b)
	}
}
