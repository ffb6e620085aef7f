package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/parlo-voice/parlo/internal/audio"
	"github.com/parlo-voice/parlo/internal/config"
	"github.com/parlo-voice/parlo/internal/observability"
	"github.com/parlo-voice/parlo/internal/session"
	"github.com/parlo-voice/parlo/internal/voice"
)

// Factory builds a per-session turn pipeline. The session's mode decides
// the pause profile, so construction is deferred until the session exists.
type Factory func(sess *session.Session) *voice.Orchestrator

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	factory  Factory
	metrics  *observability.Metrics
	stages   *observability.StageWindow
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	active map[string]*voice.Orchestrator
}

func New(cfg config.Config, sessions *session.Manager, factory Factory, metrics *observability.Metrics, stages *observability.StageWindow) *Server {
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		factory:  factory,
		metrics:  metrics,
		stages:   stages,
		active:   make(map[string]*voice.Orchestrator),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the
				// same origin, so another website cannot drive the user's mic
				// session if the tutor is ever exposed beyond localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
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
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/session", s.handleCreateSession)
	r.Post("/v1/session/{id}/end", s.handleEndSession)
	r.Get("/v1/session/{id}/status", s.handleSessionStatus)
	r.Get("/v1/session/ws", s.handleSessionWS)
	r.Get("/v1/perf/turns", s.handlePerfTurns)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.LearnerID) == "" {
		req.LearnerID = "anonymous"
	}
	switch req.Mode {
	case "", session.ModeConversation, session.ModeInterview:
	default:
		respondError(w, http.StatusBadRequest, "invalid_mode", "mode must be conversation or interview")
		return
	}

	sess := s.sessions.Create(req.LearnerID, req.Mode)
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("created").Inc()

	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       sess.ID,
		LearnerID:       sess.LearnerID,
		Mode:            sess.Mode,
		Status:          sess.Status,
		StartedAt:       sess.StartedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.cfg.SessionInactivityTimeout.Milliseconds(),
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	s.dropPipeline(id)
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("ended").Inc()
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.sessions.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}

	s.mu.RLock()
	orch := s.active[id]
	s.mu.RUnlock()

	body := map[string]any{
		"session": sess,
	}
	if orch != nil {
		body["pipeline"] = orch.Snapshot()
	}
	respondJSON(w, http.StatusOK, body)
}

func (s *Server) handlePerfTurns(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.stages.Snapshot())
}

func (s *Server) registerPipeline(id string, orch *voice.Orchestrator) {
	s.mu.Lock()
	s.active[id] = orch
	s.mu.Unlock()
}

func (s *Server) dropPipeline(id string) {
	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func decodeFramePCM(b64 string) ([]int16, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || len(raw)%2 != 0 {
		return nil, errors.New("pcm payload must be non-empty 16-bit little-endian")
	}
	return audio.PCM16LEToSamples(raw), nil
}
