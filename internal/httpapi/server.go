package httpapi

import (
	"encoding/json"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/rgkrishnan/vaani/internal/callflow"
	"github.com/rgkrishnan/vaani/internal/ccml"
	"github.com/rgkrishnan/vaani/internal/config"
	"github.com/rgkrishnan/vaani/internal/observability"
	"github.com/rgkrishnan/vaani/internal/outcome"
	"github.com/rgkrishnan/vaani/internal/session"
)

type Server struct {
	cfg      config.Config
	engine   *callflow.Engine
	store    *session.Store
	recorder outcome.Recorder
	monitor  *MonitorHub
	upgrader websocket.Upgrader
}

func New(cfg config.Config, engine *callflow.Engine, store *session.Store, recorder outcome.Recorder, monitor *MonitorHub) *Server {
	return &Server{
		cfg:      cfg,
		engine:   engine,
		store:    store,
		recorder: recorder,
		monitor:  monitor,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Non-browser diagnostic clients omit Origin; browsers must
				// match the serving host.
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/health/", s.handleHealth)
	r.Get("/readyz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/telephony/incoming", s.handleIncoming)
	r.Post("/telephony/gather/{call_id}", s.handleGather)
	r.Post("/telephony/events", s.handleStatusEvent)

	r.Post("/telephony/outbound/notification", s.handleInitiateNotification)
	r.Post("/telephony/outbound/marketing", s.handleInitiateMarketing)
	r.Post("/telephony/outbound/notification/handle", s.handleNotificationAnswered)
	r.Post("/telephony/outbound/marketing/handle", s.handleMarketingAnswered)
	r.Post("/telephony/outbound/marketing/gather/{call_id}", s.handleMarketingGather)

	r.Get("/telephony/sessions", s.handleListSessions)
	r.Get("/telephony/session/{call_id}", s.handleGetSession)
	r.Get("/telephony/session/{call_id}/live", s.handleLiveMonitor)

	r.Get("/audio/{name}", s.handleAudio)

	r.Get("/analytics/marketing", s.handleMarketingAnalytics)
	r.Get("/analytics/notifications", s.handleNotificationAnalytics)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"active_calls": s.store.ActiveCount(),
	})
}

// webhookForm is the subset of provider webhook fields the engine consumes.
type webhookForm struct {
	CallID       string
	From         string
	To           string
	CallStatus   string
	SpeechResult string
	Digits       string
}

func parseWebhook(r *http.Request) webhookForm {
	_ = r.ParseForm()
	f := webhookForm{
		From:         r.PostFormValue("From"),
		To:           r.PostFormValue("To"),
		CallStatus:   r.PostFormValue("CallStatus"),
		SpeechResult: r.PostFormValue("SpeechResult"),
		Digits:       r.PostFormValue("Digits"),
	}
	// Providers disagree on the call id field name.
	for _, key := range []string{"CallSid", "call_sid", "CallUUID", "call_uuid", "request_uuid", "RequestUUID"} {
		if v := r.PostFormValue(key); v != "" {
			f.CallID = v
			break
		}
	}
	return f
}

func (s *Server) handleIncoming(w http.ResponseWriter, r *http.Request) {
	f := parseWebhook(r)
	if f.CallID == "" {
		respondError(w, http.StatusBadRequest, "missing_call_id", "webhook carries no call id")
		return
	}
	respondXML(w, s.engine.HandleIncoming(r.Context(), f.CallID, f.From, f.To))
}

func (s *Server) handleGather(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "call_id")
	f := parseWebhook(r)
	respondXML(w, s.engine.HandleGather(r.Context(), callID, f.SpeechResult, f.Digits))
}

func (s *Server) handleStatusEvent(w http.ResponseWriter, r *http.Request) {
	f := parseWebhook(r)
	if f.CallID == "" {
		respondError(w, http.StatusBadRequest, "missing_call_id", "webhook carries no call id")
		return
	}
	s.engine.HandleStatus(r.Context(), f.CallID, f.CallStatus)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleInitiateNotification(w http.ResponseWriter, r *http.Request) {
	var req callflow.NotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	callID, err := s.engine.InitiateNotification(r.Context(), req)
	if err != nil {
		respondError(w, http.StatusBadGateway, "call_placement_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"call_id": callID})
}

func (s *Server) handleInitiateMarketing(w http.ResponseWriter, r *http.Request) {
	var req callflow.MarketingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	callID, err := s.engine.InitiateMarketing(r.Context(), req)
	if err != nil {
		respondError(w, http.StatusBadGateway, "call_placement_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"call_id": callID})
}

func (s *Server) handleNotificationAnswered(w http.ResponseWriter, r *http.Request) {
	f := parseWebhook(r)
	respondXML(w, s.engine.HandleNotificationAnswered(r.Context(), f.CallID))
}

func (s *Server) handleMarketingAnswered(w http.ResponseWriter, r *http.Request) {
	f := parseWebhook(r)
	respondXML(w, s.engine.HandleMarketingAnswered(r.Context(), f.CallID))
}

func (s *Server) handleMarketingGather(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "call_id")
	f := parseWebhook(r)
	respondXML(w, s.engine.HandleMarketingGather(r.Context(), callID, f.SpeechResult, f.Digits))
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	sessions := s.store.Snapshot()
	respondJSON(w, http.StatusOK, map[string]any{
		"count":    len(sessions),
		"sessions": sessions,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "call_id")
	sess, err := s.store.Get(callID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", "no active session for call "+callID)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

// handleLiveMonitor streams call progress events over a websocket until the
// watcher disconnects or the call terminates.
func (s *Server) handleLiveMonitor(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "call_id")
	if _, err := s.store.Get(callID); err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", "no active session for call "+callID)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events, unsubscribe := s.monitor.Subscribe(callID)
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case ev := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
			if ev.Type == "terminated" {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "call terminated"),
					time.Now().Add(time.Second))
				return
			}
		}
	}
}

// handleAudio serves synthesized artifacts for provider playback. Names are
// content hashes generated by the synthesis cache; anything with path
// separators is rejected.
func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		respondError(w, http.StatusBadRequest, "invalid_audio_name", "malformed audio name")
		return
	}
	path := filepath.Join(s.cfg.AudioDir, name)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	http.ServeFile(w, r, path)
}

func (s *Server) handleMarketingAnalytics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.recorder.MarketingStats(r.Context(), r.URL.Query().Get("campaign_id"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "stats_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleNotificationAnalytics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.recorder.NotificationStats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "stats_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondXML writes call-control markup. Webhook responses are always 200;
// the markup itself carries the failure handling.
func respondXML(w http.ResponseWriter, doc *ccml.Response) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc.Render()))
}
