package speech

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/rgkrishnan/vaani/internal/reliability"
)

// DeepgramConfig configures the REST speech provider.
type DeepgramConfig struct {
	APIKey   string
	BaseURL  string
	AudioDir string
	Timeout  time.Duration

	// Telephony output: mu-law 8kHz WAV for PSTN playback.
	Encoding   string
	SampleRate int
	Container  string
}

// DeepgramProvider synthesizes and transcribes through the Deepgram REST API.
type DeepgramProvider struct {
	cfg    DeepgramConfig
	client *http.Client
}

func NewDeepgramProvider(cfg DeepgramConfig) (*DeepgramProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("deepgram api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.deepgram.com"
	}
	if cfg.AudioDir == "" {
		cfg.AudioDir = "audio_cache"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "mulaw"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 8000
	}
	if cfg.Container == "" {
		cfg.Container = "wav"
	}
	if err := os.MkdirAll(cfg.AudioDir, 0o755); err != nil {
		return nil, fmt.Errorf("create audio dir: %w", err)
	}
	return &DeepgramProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (p *DeepgramProvider) Synthesize(ctx context.Context, text, voice, locale string) (AudioHandle, error) {
	if text == "" {
		return AudioHandle{}, fmt.Errorf("empty text for synthesis")
	}

	name := audioName(text, voice, locale, p.cfg.Container)
	path := filepath.Join(p.cfg.AudioDir, name)

	q := url.Values{}
	q.Set("model", voice)
	q.Set("encoding", p.cfg.Encoding)
	q.Set("sample_rate", fmt.Sprintf("%d", p.cfg.SampleRate))
	q.Set("container", p.cfg.Container)

	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return AudioHandle{}, fmt.Errorf("encode speak request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.BaseURL+"/v1/speak?"+q.Encode(), bytes.NewReader(body))
	if err != nil {
		return AudioHandle{}, fmt.Errorf("build speak request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return AudioHandle{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if reliability.IsRetryableHTTPStatus(resp.StatusCode) {
			return AudioHandle{}, fmt.Errorf("%w: speak status %d", ErrUnavailable, resp.StatusCode)
		}
		return AudioHandle{}, fmt.Errorf("speak request rejected: status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(p.cfg.AudioDir, name+".partial-*")
	if err != nil {
		return AudioHandle{}, fmt.Errorf("create audio file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return AudioHandle{}, fmt.Errorf("%w: read audio body: %v", ErrUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		return AudioHandle{}, fmt.Errorf("close audio file: %w", err)
	}
	// Rename only after the full body landed so a hit never serves partial audio.
	if err := os.Rename(tmp.Name(), path); err != nil {
		return AudioHandle{}, fmt.Errorf("store audio file: %w", err)
	}

	return AudioHandle{Name: name, Path: path, Format: p.cfg.Container}, nil
}

func (p *DeepgramProvider) TranscribeURL(ctx context.Context, audioURL, locale string) (string, error) {
	body, err := json.Marshal(map[string]string{"url": audioURL})
	if err != nil {
		return "", fmt.Errorf("encode listen request: %w", err)
	}

	q := url.Values{}
	q.Set("model", "nova-2")
	if locale != "" {
		q.Set("language", locale)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.BaseURL+"/v1/listen?"+q.Encode(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build listen request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if reliability.IsRetryableHTTPStatus(resp.StatusCode) {
			return "", fmt.Errorf("%w: listen status %d", ErrUnavailable, resp.StatusCode)
		}
		return "", fmt.Errorf("listen request rejected: status %d", resp.StatusCode)
	}

	var parsed struct {
		Results struct {
			Channels []struct {
				Alternatives []struct {
					Transcript string `json:"transcript"`
				} `json:"alternatives"`
			} `json:"channels"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("%w: decode transcript: %v", ErrUnavailable, err)
	}
	if len(parsed.Results.Channels) == 0 || len(parsed.Results.Channels[0].Alternatives) == 0 {
		return "", nil
	}
	return parsed.Results.Channels[0].Alternatives[0].Transcript, nil
}

// audioName derives the content-addressed file name for a synthesis triple.
func audioName(text, voice, locale, container string) string {
	sum := sha256.Sum256([]byte(text + "\x00" + voice + "\x00" + locale))
	return hex.EncodeToString(sum[:16]) + "." + container
}
