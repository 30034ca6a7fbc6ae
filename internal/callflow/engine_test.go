package callflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rgkrishnan/vaani/internal/brain"
	"github.com/rgkrishnan/vaani/internal/outcome"
	"github.com/rgkrishnan/vaani/internal/policy"
	"github.com/rgkrishnan/vaani/internal/session"
	"github.com/rgkrishnan/vaani/internal/speech"
	"github.com/rgkrishnan/vaani/internal/telephony"
)

// captureRecorder collects finalized outcomes and signals each arrival, since
// the engine records asynchronously off the hangup path.
type captureRecorder struct {
	mu       sync.Mutex
	outcomes []session.Outcome
	arrived  chan session.Outcome
}

func newCaptureRecorder() *captureRecorder {
	return &captureRecorder{arrived: make(chan session.Outcome, 16)}
}

func (r *captureRecorder) Record(_ context.Context, o session.Outcome) error {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, o)
	r.mu.Unlock()
	r.arrived <- o
	return nil
}

func (r *captureRecorder) MarketingStats(context.Context, string) (outcome.MarketingStats, error) {
	return outcome.MarketingStats{}, nil
}

func (r *captureRecorder) NotificationStats(context.Context) (outcome.NotificationStats, error) {
	return outcome.NotificationStats{}, nil
}

func (r *captureRecorder) Close() error { return nil }

func (r *captureRecorder) waitOutcome(t *testing.T) session.Outcome {
	t.Helper()
	select {
	case o := <-r.arrived:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("outcome never recorded")
		return session.Outcome{}
	}
}

func (r *captureRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.outcomes)
}

type testRig struct {
	engine   *Engine
	store    *session.Store
	speech   *speech.MockGateway
	recorder *captureRecorder
	dialer   *telephony.MockDialer
}

func newTestRig(t *testing.T, mutate func(*Config)) *testRig {
	t.Helper()
	cfg := Config{
		PublicBaseURL:      "http://test",
		DefaultLocale:      "en-IN",
		MaxTurns:           20,
		NoInputRetries:     2,
		SensitiveInfoLimit: 3,
		SpeechRetries:      0,
		BridgeRetries:      0,
		BackoffBase:        time.Millisecond,
		BackoffCap:         time.Millisecond,
		GatherTimeoutSec:   5,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	store := session.NewStore(time.Minute)
	gateway := speech.NewMockGateway()
	recorder := newCaptureRecorder()
	dialer := telephony.NewMockDialer()
	engine := NewEngine(store, brain.NewMockBridge(), speech.NewCache(gateway, 64), recorder, dialer, nil, nil, cfg)
	return &testRig{engine: engine, store: store, speech: gateway, recorder: recorder, dialer: dialer}
}

func TestIncomingCallGreetsAndAwaitsInput(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	doc := rig.engine.HandleIncoming(ctx, "CA1", "+911234567890", "+911112223334").Render()
	if !strings.Contains(doc, "<Play>http://test/audio/") {
		t.Fatalf("greeting not synthesized:\n%s", doc)
	}
	if !strings.Contains(doc, `action="http://test/telephony/gather/CA1"`) {
		t.Fatalf("no gather callback:\n%s", doc)
	}

	s, err := rig.store.Get("CA1")
	if err != nil {
		t.Fatal(err)
	}
	if s.State != session.StateAwaitingInput {
		t.Fatalf("state = %s, want awaiting-input", s.State)
	}
	if len(s.Turns) != 1 || s.Turns[0].Speaker != session.SpeakerAgent {
		t.Fatalf("turns = %+v", s.Turns)
	}
}

func TestDuplicateIncomingWebhookIsIdempotent(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	rig.engine.HandleIncoming(ctx, "CA1", "+91123", "+91456")
	doc := rig.engine.HandleIncoming(ctx, "CA1", "+91123", "+91456").Render()

	if !strings.Contains(doc, "Gather") {
		t.Fatalf("duplicate should re-render the prompt:\n%s", doc)
	}
	s, _ := rig.store.Get("CA1")
	if len(s.Turns) != 1 {
		t.Fatalf("duplicate webhook re-greeted: %d turns", len(s.Turns))
	}
	if rig.store.ActiveCount() != 1 {
		t.Fatalf("active = %d", rig.store.ActiveCount())
	}
}

func TestConversationTurnLoops(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	rig.engine.HandleIncoming(ctx, "CA1", "+91123", "+91456")
	doc := rig.engine.HandleGather(ctx, "CA1", "what is my balance", "").Render()

	if !strings.Contains(doc, "<Play>") || !strings.Contains(doc, "Gather") {
		t.Fatalf("reply should play audio and gather again:\n%s", doc)
	}
	s, _ := rig.store.Get("CA1")
	if s.State != session.StateAwaitingInput {
		t.Fatalf("state = %s", s.State)
	}
	if got := s.CountTurns(session.SpeakerCaller); got != 1 {
		t.Fatalf("caller turns = %d", got)
	}
	if got := s.CountTurns(session.SpeakerAgent); got != 2 {
		t.Fatalf("agent turns = %d", got)
	}
}

func TestFarewellEndsCallExactlyOnce(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	rig.engine.HandleIncoming(ctx, "CA1", "+91123", "+91456")
	doc := rig.engine.HandleGather(ctx, "CA1", "thank you, bye", "").Render()
	if !strings.Contains(doc, "Hangup") {
		t.Fatalf("farewell did not hang up:\n%s", doc)
	}

	o := rig.recorder.waitOutcome(t)
	if o.Reason != session.ReasonCompleted {
		t.Fatalf("reason = %s", o.Reason)
	}
	if _, err := rig.store.Get("CA1"); !errors.Is(err, session.ErrNotFound) {
		t.Fatal("session not evicted after termination")
	}
	if rig.recorder.count() != 1 {
		t.Fatalf("recorded %d outcomes, want 1", rig.recorder.count())
	}
}

func TestNoInputRetriesThenEnds(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()
	rig.engine.HandleIncoming(ctx, "CA1", "+91123", "+91456")

	for i := 0; i < 2; i++ {
		doc := rig.engine.HandleGather(ctx, "CA1", "", "").Render()
		if !strings.Contains(doc, "Gather") {
			t.Fatalf("retry %d should re-prompt:\n%s", i+1, doc)
		}
		if strings.Contains(doc, "<Play>") {
			t.Fatalf("re-prompt should not hit synthesis:\n%s", doc)
		}
	}

	doc := rig.engine.HandleGather(ctx, "CA1", "", "").Render()
	if strings.Contains(doc, "Gather") {
		t.Fatalf("third silence should end the call:\n%s", doc)
	}
	o := rig.recorder.waitOutcome(t)
	if o.Reason != session.ReasonNoInput {
		t.Fatalf("reason = %s, want no-input", o.Reason)
	}
}

func TestInputAfterSilenceResetsRetryCount(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()
	rig.engine.HandleIncoming(ctx, "CA1", "+91123", "+91456")

	rig.engine.HandleGather(ctx, "CA1", "", "")
	rig.engine.HandleGather(ctx, "CA1", "what is my balance", "")

	s, _ := rig.store.Get("CA1")
	if s.NoInputCount != 0 {
		t.Fatalf("no-input count = %d after real input", s.NoInputCount)
	}
}

func TestSensitiveInfoRedirectsAndEscalates(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()
	rig.engine.HandleIncoming(ctx, "CA1", "+91123", "+91456")

	for i, utterance := range []string{"my otp is 123456", "otp 234567 i said", "take my pin 4321"} {
		doc := rig.engine.HandleGather(ctx, "CA1", utterance, "").Render()
		ended := !strings.Contains(doc, "Gather")
		if wantEnd := i == 2; ended != wantEnd {
			t.Fatalf("strike %d: ended=%v, want %v:\n%s", i+1, ended, wantEnd, doc)
		}
	}

	o := rig.recorder.waitOutcome(t)
	if o.Reason != session.ReasonSafetyRedirect {
		t.Fatalf("reason = %s, want safety-redirect", o.Reason)
	}
}

func TestSensitiveInfoOverridesReplyText(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()
	rig.engine.HandleIncoming(ctx, "CA1", "+91123", "+91456")
	rig.engine.HandleGather(ctx, "CA1", "my card number is 4111 1111 1111 1111", "")

	s, _ := rig.store.Get("CA1")
	lastAgent := s.Turns[len(s.Turns)-1]
	if lastAgent.Speaker != session.SpeakerAgent {
		t.Fatalf("last turn = %+v", lastAgent)
	}
	if lastAgent.Text != policy.RedirectionMessage {
		t.Fatalf("reply not overridden by the fixed redirection: %q", lastAgent.Text)
	}
	if s.SensitiveCount != 1 {
		t.Fatalf("sensitive count = %d", s.SensitiveCount)
	}
}

func TestTurnCapEndsCall(t *testing.T) {
	rig := newTestRig(t, func(c *Config) { c.MaxTurns = 5 })
	ctx := context.Background()
	rig.engine.HandleIncoming(ctx, "CA1", "+91123", "+91456")

	rig.engine.HandleGather(ctx, "CA1", "i need help with something", "")
	doc := rig.engine.HandleGather(ctx, "CA1", "hmm let me see here", "").Render()
	if strings.Contains(doc, "Gather") {
		t.Fatalf("turn cap not enforced:\n%s", doc)
	}
	o := rig.recorder.waitOutcome(t)
	if o.Reason != session.ReasonTurnCap {
		t.Fatalf("reason = %s, want turn-cap", o.Reason)
	}
}

func TestDegradedSynthesisFallsBackToSay(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.speech.FailSynthesis = true
	ctx := context.Background()

	doc := rig.engine.HandleIncoming(ctx, "CA1", "+91123", "+91456").Render()
	if strings.Contains(doc, "<Play>") {
		t.Fatalf("failed synthesis still emitted a play directive:\n%s", doc)
	}
	if !strings.Contains(doc, "<Say") || !strings.Contains(doc, "Gather") {
		t.Fatalf("degraded path must still speak and gather:\n%s", doc)
	}
	s, err := rig.store.Get("CA1")
	if err != nil {
		t.Fatal(err)
	}
	if s.State != session.StateAwaitingInput {
		t.Fatalf("degraded synthesis should not fail the call: state = %s", s.State)
	}
}

func TestSharedGreetingSynthesizedOnce(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			rig.engine.HandleIncoming(ctx, fmt.Sprintf("CA%d", n), "+91123", "+91456")
		}(i)
	}
	wg.Wait()

	if calls := rig.speech.SynthesisCalls(); calls != 1 {
		t.Fatalf("identical greeting synthesized %d times, want 1", calls)
	}
}

func TestGatherForUnknownCallHangsUpGracefully(t *testing.T) {
	rig := newTestRig(t, nil)
	doc := rig.engine.HandleGather(context.Background(), "CA-ghost", "hello", "").Render()
	if !strings.Contains(doc, "Hangup") {
		t.Fatalf("unknown call must hang up:\n%s", doc)
	}
	if rig.recorder.count() != 0 {
		t.Fatal("unknown call must not record an outcome")
	}
}

func TestStatusCallbackFinalizesOnce(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()
	rig.engine.HandleIncoming(ctx, "CA1", "+91123", "+91456")

	rig.engine.HandleStatus(ctx, "CA1", "completed")
	o := rig.recorder.waitOutcome(t)
	if o.Reason != session.ReasonCompleted {
		t.Fatalf("reason = %s", o.Reason)
	}

	// Duplicate terminal event for an already-evicted session is a no-op.
	rig.engine.HandleStatus(ctx, "CA1", "completed")
	rig.engine.HandleStatus(ctx, "CA1", "failed")
	time.Sleep(50 * time.Millisecond)
	if rig.recorder.count() != 1 {
		t.Fatalf("recorded %d outcomes, want 1", rig.recorder.count())
	}
}

func TestStatusCallbackIgnoresNonTerminalStates(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()
	rig.engine.HandleIncoming(ctx, "CA1", "+91123", "+91456")

	rig.engine.HandleStatus(ctx, "CA1", "ringing")
	rig.engine.HandleStatus(ctx, "CA1", "in-progress")
	if _, err := rig.store.Get("CA1"); err != nil {
		t.Fatal("non-terminal status must not evict the session")
	}
}

func TestIdleExpiryFinalizesWithTimeout(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()
	rig.engine.HandleIncoming(ctx, "CA1", "+91123", "+91456")

	_ = rig.store.Step("CA1", func(s *session.CallSession) error {
		s.LastActivityAt = time.Now().UTC().Add(-2 * time.Minute)
		return nil
	})
	s, _ := rig.store.Get("CA1")
	rig.engine.ExpireIdle(s)

	o := rig.recorder.waitOutcome(t)
	if o.Reason != session.ReasonTimeout {
		t.Fatalf("reason = %s, want timeout", o.Reason)
	}
	if _, err := rig.store.Get("CA1"); !errors.Is(err, session.ErrNotFound) {
		t.Fatal("expired session not evicted")
	}
}

func TestIdleExpirySkipsSessionWithRecentActivity(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()
	rig.engine.HandleIncoming(ctx, "CA1", "+91123", "+91456")

	// The greeting step just touched the session; a stale janitor selection
	// must not tear down the live call.
	s, _ := rig.store.Get("CA1")
	rig.engine.ExpireIdle(s)

	if _, err := rig.store.Get("CA1"); err != nil {
		t.Fatal("active session was evicted by idle expiry")
	}
	select {
	case o := <-rig.recorder.arrived:
		t.Fatalf("active session finalized with reason %s", o.Reason)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNotificationCallDeliversAndEnds(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	callID, err := rig.engine.InitiateNotification(ctx, NotificationRequest{
		ToNumber:         "+911234567890",
		Persona:          "bank",
		NotificationType: "payment_reminder",
		Priority:         "high",
		Message:          "Your EMI payment is due tomorrow.",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(rig.dialer.Placed()) != 1 {
		t.Fatal("no call placed")
	}

	doc := rig.engine.HandleNotificationAnswered(ctx, callID).Render()
	if !strings.Contains(doc, "Hangup") {
		t.Fatalf("notification call must end after delivery:\n%s", doc)
	}

	o := rig.recorder.waitOutcome(t)
	if o.Reason != session.ReasonDelivered {
		t.Fatalf("reason = %s, want delivered", o.Reason)
	}
	if !o.Delivered {
		t.Fatal("delivered flag not set")
	}
	if o.Notification == nil || o.Notification.NotificationType != "payment_reminder" {
		t.Fatalf("notification metadata lost: %+v", o.Notification)
	}
}

func TestNotificationRequiresMessage(t *testing.T) {
	rig := newTestRig(t, nil)
	if _, err := rig.engine.InitiateNotification(context.Background(), NotificationRequest{ToNumber: "+911"}); err == nil {
		t.Fatal("empty message accepted")
	}
	if len(rig.dialer.Placed()) != 0 {
		t.Fatal("invalid request still placed a call")
	}
}

func TestMarketingCallClassifiesInterest(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	callID, err := rig.engine.InitiateMarketing(ctx, MarketingRequest{
		ToNumber:     "+911234567890",
		Persona:      "bank",
		CampaignID:   "camp-1",
		CampaignName: "Gold Savings",
	})
	if err != nil {
		t.Fatal(err)
	}

	doc := rig.engine.HandleMarketingAnswered(ctx, callID).Render()
	if !strings.Contains(doc, "/telephony/outbound/marketing/gather/"+callID) {
		t.Fatalf("opener must gather on the marketing leg:\n%s", doc)
	}

	end := rig.engine.HandleMarketingGather(ctx, callID, "yes, that sounds great", "").Render()
	if !strings.Contains(end, "Hangup") {
		t.Fatalf("marketing reply should end the call:\n%s", end)
	}

	o := rig.recorder.waitOutcome(t)
	if o.Interest != "interested" {
		t.Fatalf("interest = %q, want interested", o.Interest)
	}
	if o.Campaign == nil || o.Campaign.CampaignID != "camp-1" {
		t.Fatalf("campaign metadata lost: %+v", o.Campaign)
	}
}

func TestMarketingSilenceClassifiesNoResponse(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	callID, err := rig.engine.InitiateMarketing(ctx, MarketingRequest{
		ToNumber:     "+911234567890",
		CampaignID:   "camp-1",
		CampaignName: "Gold Savings",
	})
	if err != nil {
		t.Fatal(err)
	}
	rig.engine.HandleMarketingAnswered(ctx, callID)

	// One re-prompt, then the prospect is left alone.
	rig.engine.HandleMarketingGather(ctx, callID, "", "")
	doc := rig.engine.HandleMarketingGather(ctx, callID, "", "").Render()
	if strings.Contains(doc, "Gather") {
		t.Fatalf("second silence should end the call:\n%s", doc)
	}

	o := rig.recorder.waitOutcome(t)
	if o.Interest != "no-response" {
		t.Fatalf("interest = %q, want no-response", o.Interest)
	}
	if o.Reason != session.ReasonNoInput {
		t.Fatalf("reason = %s", o.Reason)
	}
}

type monitorSpy struct {
	mu     sync.Mutex
	events []MonitorEvent
}

func (m *monitorSpy) Publish(ev MonitorEvent) {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
}

func (m *monitorSpy) byType(evType string) []MonitorEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []MonitorEvent
	for _, ev := range m.events {
		if ev.Type == evType {
			out = append(out, ev)
		}
	}
	return out
}

func TestMonitorReceivesTurnAndTerminationEvents(t *testing.T) {
	spy := &monitorSpy{}
	store := session.NewStore(time.Minute)
	recorder := newCaptureRecorder()
	engine := NewEngine(store, brain.NewMockBridge(), speech.NewCache(speech.NewMockGateway(), 16),
		recorder, telephony.NewMockDialer(), nil, spy, Config{PublicBaseURL: "http://test"})

	ctx := context.Background()
	engine.HandleIncoming(ctx, "CA1", "+91123", "+91456")
	engine.HandleGather(ctx, "CA1", "bye", "")
	recorder.waitOutcome(t)

	if len(spy.byType("turn")) < 3 {
		t.Fatalf("turn events = %d, want >= 3", len(spy.byType("turn")))
	}
	if len(spy.byType("terminated")) != 1 {
		t.Fatalf("terminated events = %d, want 1", len(spy.byType("terminated")))
	}
}
