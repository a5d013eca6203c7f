// Package server exposes the broker over HTTP: a WebSocket attach endpoint
// for call legs and a small JSON control plane for the operator console.
//
// The WebSocket endpoint is /ws?call_id=<id>&role=<operator|scammer>. A
// failed attach is reported as an error envelope on the freshly accepted
// socket before it is closed, so clients always get a structured reason.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kavachlabs/kavach/internal/broker"
	"github.com/kavachlabs/kavach/internal/health"
	"github.com/kavachlabs/kavach/internal/wire"
)

// rejectTimeout bounds the error-envelope write on a failed attach.
const rejectTimeout = 2 * time.Second

// Option is a functional option for configuring a Server.
type Option func(*Server)

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithAuthToken enables bearer-token auth on the control plane and the
// WebSocket endpoint. Health and metrics stay open for probes.
func WithAuthToken(token string) Option {
	return func(s *Server) { s.token = token }
}

// WithHealth sets the health handler. Defaults to one with no readiness
// checkers.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithOriginPatterns sets the allowed WebSocket origins. Defaults to
// same-origin only, per the websocket library.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.origins = patterns }
}

// Server routes HTTP traffic to the broker registry.
type Server struct {
	registry *broker.Registry
	health   *health.Handler
	log      *slog.Logger
	token    string
	origins  []string
	mux      *http.ServeMux
}

// New creates a Server over the given registry.
func New(registry *broker.Registry, opts ...Option) *Server {
	s := &Server{
		registry: registry,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.health == nil {
		s.health = health.New()
	}

	s.mux = http.NewServeMux()
	s.health.Register(s.mux)
	s.mux.Handle("GET /metrics", promhttp.Handler())
	s.mux.HandleFunc("GET /ws", s.auth(s.handleWS))
	s.mux.HandleFunc("POST /api/call/start", s.auth(s.handleStart))
	s.mux.HandleFunc("POST /api/call/end/{id}", s.auth(s.handleEnd))
	s.mux.HandleFunc("GET /api/call/status/{id}", s.auth(s.handleStatus))
	return s
}

// Handler returns the root handler for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// auth wraps next with bearer-token checking when a token is configured.
// WebSocket clients that cannot set headers may pass ?token= instead.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if got != s.token && r.URL.Query().Get("token") != s.token {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
				return
			}
		}
		next(w, r)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

type startRequest struct {
	CallID string `json:"call_id"`
}

type startResponse struct {
	CallID string `json:"call_id"`
}

// handleStart mints a call id. Sessions come into existence lazily when the
// first leg attaches, so this is bookkeeping for the console, not state.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body"})
			return
		}
	}
	if req.CallID == "" {
		req.CallID = uuid.NewString()
	}
	s.log.Info("call id issued", "call_id", req.CallID)
	writeJSON(w, http.StatusCreated, startResponse{CallID: req.CallID})
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	callID := r.PathValue("id")
	if err := s.registry.End(callID); err != nil {
		if errors.Is(err, broker.ErrUnknownCall) {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "unknown call"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type statusResponse struct {
	CallID       string    `json:"call_id"`
	State        string    `json:"state"`
	LegsPresent  []string  `json:"legs_present"`
	StartedAt    time.Time `json:"started_at"`
	LastActivity time.Time `json:"last_activity"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.registry.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, broker.ErrUnknownCall) {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "unknown call"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		CallID:       st.CallID,
		State:        st.State,
		LegsPresent:  st.LegsPresent,
		StartedAt:    st.StartedAt,
		LastActivity: st.LastActivity,
	})
}

// handleWS upgrades the connection and binds it as one leg of the call.
// Parameter problems and attach failures are reported on the socket itself.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	callID := r.URL.Query().Get("call_id")
	role := wire.Role(r.URL.Query().Get("role"))

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.origins,
	})
	if err != nil {
		s.log.Warn("websocket accept failed", "error", err)
		return
	}

	if callID == "" || !role.IsValid() {
		s.reject(conn, wire.CodeBadPayload, "call_id and a valid role are required")
		return
	}

	if err := s.registry.Attach(r.Context(), callID, role, newWSConn(conn)); err != nil {
		code := wire.CodeBadPayload
		switch {
		case errors.Is(err, broker.ErrRoleOccupied):
			code = wire.CodeRoleOccupied
		case errors.Is(err, broker.ErrSessionLimit):
			code = wire.CodeSessionLimit
		}
		s.log.Warn("attach rejected", "call_id", callID, "role", role, "error", err)
		s.reject(conn, code, err.Error())
		return
	}
	s.log.Info("leg attached", "call_id", callID, "role", role)
	// The broker owns the connection from here on.
}

// reject sends a structured error envelope and closes the socket.
func (s *Server) reject(conn *websocket.Conn, code wire.ErrorCode, detail string) {
	ctx, cancel := context.WithTimeout(context.Background(), rejectTimeout)
	defer cancel()
	if frame, err := wire.Encode(wire.Error{Code: code, Message: detail}); err == nil {
		_ = conn.Write(ctx, websocket.MessageText, frame)
	}
	_ = conn.Close(websocket.StatusPolicyViolation, string(code))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failure"}`, http.StatusInternalServerError)
	}
}
