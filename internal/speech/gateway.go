package speech

import (
	"context"
	"errors"
)

// ErrUnavailable marks a provider error or timeout. The engine retries a
// bounded number of times, then degrades to a scripted fallback phrase.
var ErrUnavailable = errors.New("speech provider unavailable")

// AudioHandle names a fully synthesized audio artifact. Name is stable for a
// given (text, voice, locale) triple and is what playback URLs reference.
type AudioHandle struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Format string `json:"format"`
}

// Synthesizer turns sanitized text into playable telephony audio. The input
// text must already be speech-safe; callers run SanitizeForSpeech first.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice, locale string) (AudioHandle, error)
}

// Transcriber recovers text from recorded audio. Inbound gather webhooks
// usually carry provider-side transcripts already; this covers recording
// callbacks that arrive as URLs.
type Transcriber interface {
	TranscribeURL(ctx context.Context, audioURL, locale string) (string, error)
}

// Gateway is the uniform provider surface the call engine depends on.
type Gateway interface {
	Synthesizer
	Transcriber
}
