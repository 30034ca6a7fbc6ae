package telephony

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClientPlaceCall(t *testing.T) {
	var gotAuth string
	var gotPayload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if !strings.Contains(r.URL.Path, "/api/v1/Account/acct-1/Call/") {
			t.Errorf("path = %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotPayload)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"request_uuid": "req-123"})
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "acct-1", "token-1", "+911110000000")
	if err != nil {
		t.Fatal(err)
	}
	placed, err := c.PlaceCall(context.Background(), PlaceCallRequest{
		ToNumber:  "+911234567890",
		AnswerURL: "http://host/telephony/outbound/notification/handle",
	})
	if err != nil {
		t.Fatal(err)
	}
	if placed.CallID != "req-123" {
		t.Fatalf("call id = %q", placed.CallID)
	}
	if !strings.HasPrefix(gotAuth, "Basic ") {
		t.Fatalf("auth header = %q", gotAuth)
	}
	if gotPayload["from"] != "+911110000000" {
		t.Fatalf("default from number not applied: %v", gotPayload["from"])
	}
	if gotPayload["answer_url"] != "http://host/telephony/outbound/notification/handle" {
		t.Fatalf("answer url = %v", gotPayload["answer_url"])
	}
}

func TestClientPlaceCallAltIDKeys(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"CallUUID": "uuid-9"})
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL, "a", "b", "")
	placed, err := c.PlaceCall(context.Background(), PlaceCallRequest{ToNumber: "+911"})
	if err != nil {
		t.Fatal(err)
	}
	if placed.CallID != "uuid-9" {
		t.Fatalf("call id = %q", placed.CallID)
	}
}

func TestClientPlaceCallProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL, "a", "b", "")
	if _, err := c.PlaceCall(context.Background(), PlaceCallRequest{ToNumber: "+911"}); err == nil {
		t.Fatal("expected provider error")
	}
}

func TestClientPlaceCallMissingID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "queued"})
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL, "a", "b", "")
	if _, err := c.PlaceCall(context.Background(), PlaceCallRequest{ToNumber: "+911"}); err == nil {
		t.Fatal("expected missing id error")
	}
}

func TestNewClientRequiresCredentials(t *testing.T) {
	if _, err := NewClient("http://host", "", "token", ""); err == nil {
		t.Fatal("empty auth id accepted")
	}
	if _, err := NewClient("http://host", "id", "  ", ""); err == nil {
		t.Fatal("blank token accepted")
	}
}

func TestMockDialerFabricatesIDs(t *testing.T) {
	d := NewMockDialer()
	a, err := d.PlaceCall(context.Background(), PlaceCallRequest{ToNumber: "+911"})
	if err != nil {
		t.Fatal(err)
	}
	b, _ := d.PlaceCall(context.Background(), PlaceCallRequest{ToNumber: "+912"})
	if a.CallID == b.CallID || !strings.HasPrefix(a.CallID, "CA") {
		t.Fatalf("ids = %q, %q", a.CallID, b.CallID)
	}
	if len(d.Placed()) != 2 {
		t.Fatalf("placed = %d", len(d.Placed()))
	}
}
