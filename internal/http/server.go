package http

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"emergency-call-backend/internal/core"
	"emergency-call-backend/internal/db"
	"emergency-call-backend/internal/feed"
	"emergency-call-backend/internal/logger"
	"emergency-call-backend/pkg"
)

// Services bundles the domain services the handlers call into.
type Services struct {
	Repo     *db.Repository
	Calls    *core.CallService
	Messages *core.MessageService
	Guides   *core.GuideService
	Feed     *core.FeedComposer
	Pipeline *core.Pipeline
	Hub      *feed.Hub
}

// Server bundles together the dependencies required by HTTP handlers.  It
// implements http.Handler so it can be passed to http.Server.
type Server struct {
	Services
	Log            *logger.Logger
	MaxUploadBytes int64

	mux *http.ServeMux
}

// NewServer constructs a Server and registers every route.
func NewServer(svc Services, log *logger.Logger, maxUploadBytes int64) *Server {
	s := &Server{Services: svc, Log: log, MaxUploadBytes: maxUploadBytes, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) routes() {
	// Call lifecycle
	s.mux.HandleFunc("POST /start-call", s.handleStartCall)
	s.mux.HandleFunc("POST /end-call/{session_id}", s.handleEndCall)
	s.mux.HandleFunc("POST /send-message", s.handleSendMessage)

	// Live feed and guide
	s.mux.HandleFunc("GET /live-feed/{session_id}", s.handleLiveFeed)
	s.mux.HandleFunc("GET /live-feed/{session_id}/stream", s.handleLiveFeedStream)
	s.mux.HandleFunc("POST /update-suggestions", s.handleUpdateSuggestions)
	s.mux.HandleFunc("POST /generate-suggestions/{session_id}", s.handleGenerateSuggestions)

	// AI pipeline
	s.mux.HandleFunc("POST /process-audio", s.handleProcessAudio)
	s.mux.HandleFunc("POST /transcribe-only", s.handleTranscribeOnly)
	s.mux.HandleFunc("POST /translate-text", s.handleTranslateText)
	s.mux.HandleFunc("POST /generate-recommendations", s.handleGenerateRecommendations)
	s.mux.HandleFunc("POST /generate-agent-suggestions", s.handleGenerateAgentSuggestions)

	// Operational
	s.mux.HandleFunc("GET /agents", s.handleListAgents)
	s.mux.HandleFunc("POST /seed-agent", s.handleSeedAgent)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /test-backend", s.handleTestBackend)
	s.mux.HandleFunc("GET /{$}", s.handleRoot)
}

// ServeHTTP tags the request with an id and a logger, answers CORS
// preflights, and dispatches to the mux.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	reqID := logger.RequestID(r)
	entry := s.Log.WithRequest(r, reqID)
	w.Header().Set("X-Request-ID", reqID)
	w.Header().Set("Access-Control-Allow-Origin", "*")

	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rec, r.WithContext(logger.NewContext(r.Context(), entry)))

	entry.WithFields(logrus.Fields{
		"status":      rec.status,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("request completed")
}

// statusRecorder captures the response status for the access log.  It keeps
// Hijack available so websocket upgrades work through it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pkg.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, pkg.ErrSessionNotFound), errors.Is(err, pkg.ErrCallerNotFound):
		return http.StatusNotFound
	case errors.Is(err, pkg.ErrNoAgentAvailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, pkg.ErrAIBackendUnavailable):
		return http.StatusInternalServerError
	case errors.Is(err, pkg.ErrTranscriptionFailed), errors.Is(err, pkg.ErrAIBackend):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError answers with {"detail": ...}.  Unclassified errors are logged
// and hidden behind a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	detail := err.Error()
	switch {
	case errors.Is(err, pkg.ErrNoAgentAvailable):
		detail = "No available agents at the moment"
	case errors.Is(err, pkg.ErrSessionNotFound):
		detail = "Chat session not found"
	case errors.Is(err, pkg.ErrCallerNotFound):
		detail = "Caller not found"
	case errors.Is(err, pkg.ErrAIBackendUnavailable):
		detail = "AI backend not configured"
	case status == http.StatusInternalServerError:
		detail = "internal server error"
	}

	entry := logger.FromContext(r.Context(), logrus.NewEntry(logrus.StandardLogger()))
	if status >= http.StatusInternalServerError {
		entry.WithError(err).Error("request failed")
	} else {
		entry.WithError(err).Debug("request rejected")
	}
	writeJSON(w, status, map[string]string{"detail": detail})
}

func badRequest(w http.ResponseWriter, r *http.Request, detail string) {
	writeError(w, r, &detailError{msg: detail})
}

// detailError is an ErrInvalidInput whose message is shown verbatim.
type detailError struct{ msg string }

func (e *detailError) Error() string        { return e.msg }
func (e *detailError) Is(target error) bool { return target == pkg.ErrInvalidInput }

// sessionID reads the {session_id} path segment.
func sessionID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("session_id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, &detailError{msg: "session_id must be a positive integer"}
	}
	return id, nil
}

// decodeJSON reads a JSON body into v.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &detailError{msg: "invalid JSON body: " + err.Error()}
	}
	return nil
}
