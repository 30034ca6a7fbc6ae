package brain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rgkrishnan/vaani/internal/reliability"
	"github.com/rgkrishnan/vaani/internal/session"
)

// HTTPBridge talks to a reasoning service over a small JSON protocol:
// POST {base}/v1/respond with the persona prompt and conversation, expecting
// a Reply-shaped body back.
type HTTPBridge struct {
	url    string
	client *http.Client
}

func NewHTTPBridge(url string) *HTTPBridge {
	return &HTTPBridge{
		url:    strings.TrimRight(strings.TrimSpace(url), "/"),
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

type wireTurn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type wireRequest struct {
	CallID        string     `json:"call_id"`
	Kind          string     `json:"kind"`
	Persona       string     `json:"persona"`
	Direction     string     `json:"direction"`
	SystemPrompt  string     `json:"system_prompt"`
	ContextPrompt string     `json:"context_prompt,omitempty"`
	Turns         []wireTurn `json:"turns"`
}

func (b *HTTPBridge) Respond(ctx context.Context, req Request) (Reply, error) {
	wire := wireRequest{
		CallID:        req.CallID,
		Kind:          string(req.Kind),
		Persona:       string(req.Persona),
		Direction:     string(req.Direction),
		SystemPrompt:  SystemPrompt(req.Persona),
		ContextPrompt: ContextPrompt(req),
		Turns:         make([]wireTurn, 0, len(req.Turns)),
	}
	for _, t := range req.Turns {
		role := "user"
		if t.Speaker == session.SpeakerAgent {
			role = "assistant"
		}
		wire.Turns = append(wire.Turns, wireTurn{Role: role, Text: t.Text})
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return Reply{}, fmt.Errorf("encode bridge request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url+"/v1/respond", bytes.NewReader(body))
	if err != nil {
		return Reply{}, fmt.Errorf("build bridge request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return Reply{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if reliability.IsRetryableHTTPStatus(resp.StatusCode) {
			return Reply{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
		}
		return Reply{}, fmt.Errorf("bridge request rejected: status %d", resp.StatusCode)
	}

	var reply Reply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return Reply{}, fmt.Errorf("%w: decode reply: %v", ErrUnavailable, err)
	}
	if strings.TrimSpace(reply.Text) == "" {
		return Reply{}, fmt.Errorf("%w: empty reply text", ErrUnavailable)
	}
	return reply, nil
}
