package session

import (
	"testing"
	"time"
)

func TestTransitions(t *testing.T) {
	cases := []struct {
		from, to State
		ok       bool
	}{
		{StateCreated, StateGreeting, true},
		{StateCreated, StateProcessing, false},
		{StateGreeting, StateAwaitingInput, true},
		{StateGreeting, StateResponding, true},
		{StateAwaitingInput, StateProcessing, true},
		{StateAwaitingInput, StateResponding, false},
		{StateProcessing, StateResponding, true},
		{StateResponding, StateAwaitingInput, true},
		{StateResponding, StateEnding, true},
		{StateEnding, StateTerminated, true},
		{StateEnding, StateAwaitingInput, false},
		{StateTerminated, StateGreeting, false},
		{StateProcessing, StateFailed, true},
		{StateTerminated, StateFailed, false},
		{StateFailed, StateFailed, false},
		{StateFailed, StateTerminated, true},
	}
	for _, c := range cases {
		if got := c.from.CanTransition(c.to); got != c.ok {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", c.from, c.to, got, c.ok)
		}
	}
}

func TestAdvanceRejectsUndefinedEdge(t *testing.T) {
	s := &CallSession{State: StateCreated}
	if err := s.Advance(StateResponding); err == nil {
		t.Fatal("expected invalid transition error")
	}
	if s.State != StateCreated {
		t.Fatalf("state mutated on rejected transition: %s", s.State)
	}
	if err := s.Advance(StateGreeting); err != nil {
		t.Fatalf("valid transition rejected: %v", err)
	}
}

func TestFinalizeOutcomeIdempotent(t *testing.T) {
	start := time.Now().UTC().Add(-30 * time.Second)
	s := &CallSession{
		CallID:    "CA1",
		Direction: DirectionInbound,
		Persona:   PersonaBank,
		Locale:    "en-IN",
		CreatedAt: start,
	}
	s.AppendTurn(SpeakerAgent, "hello", start)
	s.AppendTurn(SpeakerCaller, "hi", start.Add(time.Second))

	first := s.FinalizeOutcome(ReasonCompleted, start.Add(30*time.Second))
	second := s.FinalizeOutcome(ReasonFailed, start.Add(60*time.Second))
	if first != second {
		t.Fatal("second finalize produced a different outcome")
	}
	if second.Reason != ReasonCompleted {
		t.Fatalf("reason overwritten: %s", second.Reason)
	}
	if first.CallerTurns != 1 || first.AgentTurns != 1 {
		t.Fatalf("turn counts = %d/%d, want 1/1", first.CallerTurns, first.AgentTurns)
	}
	if first.Duration != 30*time.Second {
		t.Fatalf("duration = %s", first.Duration)
	}
}

func TestValidPersona(t *testing.T) {
	if got := ValidPersona("insurance"); got != PersonaInsurance {
		t.Fatalf("got %s", got)
	}
	if got := ValidPersona("crypto"); got != PersonaBank {
		t.Fatalf("unknown persona should default to bank, got %s", got)
	}
}
