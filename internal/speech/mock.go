package speech

import (
	"context"
	"sync"
	"sync/atomic"
)

// MockGateway is a deterministic in-process provider used when no speech
// credentials are configured, and by tests.
type MockGateway struct {
	mu          sync.Mutex
	synthCalls  atomic.Int64
	transcripts map[string]string

	// FailSynthesis makes every Synthesize call fail with ErrUnavailable.
	FailSynthesis bool
}

func NewMockGateway() *MockGateway {
	return &MockGateway{transcripts: make(map[string]string)}
}

func (g *MockGateway) Synthesize(_ context.Context, text, voice, locale string) (AudioHandle, error) {
	g.synthCalls.Add(1)
	if g.FailSynthesis {
		return AudioHandle{}, ErrUnavailable
	}
	name := audioName(text, voice, locale, "wav")
	return AudioHandle{Name: name, Path: "mock/" + name, Format: "wav"}, nil
}

func (g *MockGateway) TranscribeURL(_ context.Context, audioURL, _ string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if t, ok := g.transcripts[audioURL]; ok {
		return t, nil
	}
	return "", nil
}

// SetTranscript fixes the transcript returned for a recording URL.
func (g *MockGateway) SetTranscript(audioURL, text string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.transcripts[audioURL] = text
}

// SynthesisCalls reports how many times the provider was invoked.
func (g *MockGateway) SynthesisCalls() int64 { return g.synthCalls.Load() }
