package telephony

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Dialer places outbound calls with the telephony provider. The provider
// answers by hitting the configured answer_url webhook once the callee picks
// up; this package only covers call placement.
type Dialer interface {
	PlaceCall(ctx context.Context, req PlaceCallRequest) (PlacedCall, error)
}

// PlaceCallRequest describes one outbound call.
type PlaceCallRequest struct {
	ToNumber   string
	FromNumber string
	// AnswerURL receives the answered-call webhook.
	AnswerURL string
	// StatusCallbackURL receives asynchronous status events.
	StatusCallbackURL string
	TimeoutSeconds    int
}

// PlacedCall is the provider's acknowledgment of an initiated call.
type PlacedCall struct {
	CallID string `json:"call_id"`
}

// Client is the REST client for the provider's call-placement API,
// authenticated with Basic auth over an account id and token.
type Client struct {
	baseURL    string
	authID     string
	authHeader string
	fromNumber string
	httpClient *http.Client
}

func NewClient(baseURL, authID, authToken, fromNumber string) (*Client, error) {
	if strings.TrimSpace(authID) == "" || strings.TrimSpace(authToken) == "" {
		return nil, errors.New("telephony auth id and token are required")
	}
	creds := base64.StdEncoding.EncodeToString([]byte(authID + ":" + authToken))
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		authID:     authID,
		authHeader: "Basic " + creds,
		fromNumber: fromNumber,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (c *Client) PlaceCall(ctx context.Context, req PlaceCallRequest) (PlacedCall, error) {
	from := req.FromNumber
	if from == "" {
		from = c.fromNumber
	}
	timeout := req.TimeoutSeconds
	if timeout <= 0 {
		timeout = 60
	}

	payload := map[string]any{
		"to":                     req.ToNumber,
		"from":                   from,
		"answer_url":             req.AnswerURL,
		"method":                 "POST",
		"status_callback":        req.StatusCallbackURL,
		"status_callback_method": "POST",
		"timeout":                timeout,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return PlacedCall{}, fmt.Errorf("encode call request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/v1/Account/%s/Call/", c.baseURL, c.authID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return PlacedCall{}, fmt.Errorf("build call request: %w", err)
	}
	httpReq.Header.Set("Authorization", c.authHeader)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return PlacedCall{}, fmt.Errorf("place call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return PlacedCall{}, fmt.Errorf("place call: provider status %d", resp.StatusCode)
	}

	// Providers disagree on the id field name; accept the common variants.
	var raw map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return PlacedCall{}, fmt.Errorf("decode call response: %w", err)
	}
	for _, key := range []string{"CallSid", "call_sid", "CallUUID", "call_uuid", "request_uuid", "RequestUUID"} {
		if v, ok := raw[key].(string); ok && v != "" {
			return PlacedCall{CallID: v}, nil
		}
	}
	return PlacedCall{}, errors.New("provider response missing call id")
}

// MockDialer records placement requests and fabricates call ids. Used when
// provider credentials are absent, and by tests.
type MockDialer struct {
	mu     sync.Mutex
	placed []PlaceCallRequest
}

func NewMockDialer() *MockDialer { return &MockDialer{} }

func (d *MockDialer) PlaceCall(_ context.Context, req PlaceCallRequest) (PlacedCall, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.placed = append(d.placed, req)
	return PlacedCall{CallID: "CA" + strings.ReplaceAll(uuid.NewString(), "-", "")[:32]}, nil
}

// Placed returns a snapshot of all placement requests.
func (d *MockDialer) Placed() []PlaceCallRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]PlaceCallRequest, len(d.placed))
	copy(out, d.placed)
	return out
}
