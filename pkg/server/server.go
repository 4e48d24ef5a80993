/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 *
 * Server - HTTP control API for call sessions.
 * Sessions are driven with REST calls; session events stream over a WebSocket.
 */
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/lithammer/shortuuid/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/maiguangyang/call_core/pkg/call"
	"github.com/maiguangyang/call_core/pkg/events"
	"github.com/maiguangyang/call_core/pkg/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the control UI is served from a different origin during development
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server exposes a call registry over HTTP
type Server struct {
	registry    *call.Registry
	hub         *Hub
	metrics     *metrics.Metrics
	metricsPath string
	pingPeriod  time.Duration
	logger      zerolog.Logger
}

// Option configures a Server
type Option func(*Server)

// WithMetrics serves m on path and counts WebSocket subscribers
func WithMetrics(m *metrics.Metrics, path string) Option {
	return func(s *Server) {
		s.metrics = m
		s.metricsPath = path
	}
}

// WithPingPeriod sets the WebSocket keepalive interval
func WithPingPeriod(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.pingPeriod = d
		}
	}
}

// New creates a server and starts its event hub
func New(registry *call.Registry, logger zerolog.Logger, opts ...Option) *Server {
	s := &Server{
		registry:    registry,
		metricsPath: "/metrics",
		pingPeriod:  30 * time.Second,
		logger:      logger.With().Str("module", "server").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.hub = NewHub(logger)
	go s.hub.Run()
	return s
}

// Close disconnects subscribers and ends every session
func (s *Server) Close() {
	s.hub.Stop()
	s.registry.CloseAll()
}

// Handler returns the routed HTTP handler
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(hlog.NewHandler(s.logger))
	r.Use(hlog.RequestIDHandler("req_id", "Request-Id"))
	r.Use(hlog.RemoteAddrHandler("ip"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Request")
	}))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthz)
	if s.metrics != nil {
		r.Handle(s.metricsPath, s.metrics.Handler())
	}

	r.Route("/calls", func(r chi.Router) {
		r.Post("/", s.createCall)
		r.Get("/", s.listCalls)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getCall)
			r.Delete("/", s.deleteCall)
			r.Post("/start", s.startCall)
			r.Post("/mute", s.toggleMute)
			r.Post("/video", s.toggleVideo)
			r.Post("/screen", s.shareScreen)
			r.Delete("/screen", s.stopScreenShare)
			r.Get("/stats", s.getStats)
			r.Get("/events", s.serveEvents)
		})
	})

	return r
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
	ID     string `json:"id,omitempty"`
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

// StatusCode maps a call error to an HTTP status
func StatusCode(err error) int {
	switch {
	case errors.Is(err, call.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, call.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, call.ErrDeviceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, call.ErrInvalidSessionState):
		return http.StatusConflict
	case errors.Is(err, call.ErrInvalidNegotiationState), errors.Is(err, call.ErrConnectionClosed):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, id string, err error) {
	writeJSON(w, StatusCode(err), errorResponse{
		Error:  err.Error(),
		Reason: call.FailureReason(err),
		ID:     id,
	})
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*call.Session, bool) {
	id := chi.URLParam(r, "id")
	session, err := s.registry.Get(id)
	if err != nil {
		writeError(w, id, err)
		return nil, false
	}
	return session, true
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Sessions: s.registry.Len()})
}

// createCall creates a session and, unless ?start=false, runs Start before responding
func (s *Server) createCall(w http.ResponseWriter, r *http.Request) {
	session := s.registry.Create()
	events.Attach(session, s.hub.Publish)
	hlog.FromRequest(r).Info().Str("session_id", session.ID()).Msg("Session created")

	if r.URL.Query().Get("start") == "false" {
		writeJSON(w, http.StatusCreated, session.Status())
		return
	}

	if err := s.start(r, session); err != nil {
		writeError(w, session.ID(), err)
		return
	}
	writeJSON(w, http.StatusCreated, session.Status())
}

func (s *Server) startCall(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := s.start(r, session); err != nil {
		writeError(w, session.ID(), err)
		return
	}
	writeJSON(w, http.StatusOK, session.Status())
}

// start outlives the request: a client hanging up does not abort the call
func (s *Server) start(r *http.Request, session *call.Session) error {
	err := session.Start(context.WithoutCancel(r.Context()))
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Str("session_id", session.ID()).
			Str("reason", call.FailureReason(err)).Msg("Session start failed")
	}
	return err
}

func (s *Server) listCalls(w http.ResponseWriter, r *http.Request) {
	sessions := s.registry.List()
	result := make([]call.SessionStatus, 0, len(sessions))
	for _, session := range sessions {
		result = append(result, session.Status())
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) getCall(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, session.Status())
}

func (s *Server) deleteCall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.registry.Remove(id); err != nil {
		writeError(w, id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) toggleMute(w http.ResponseWriter, r *http.Request) {
	s.toggle(w, r, (*call.Session).ToggleMute)
}

func (s *Server) toggleVideo(w http.ResponseWriter, r *http.Request) {
	s.toggle(w, r, (*call.Session).ToggleVideo)
}

func (s *Server) toggle(w http.ResponseWriter, r *http.Request, fn func(*call.Session) bool) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	if !fn(session) {
		writeError(w, session.ID(), call.ErrInvalidSessionState)
		return
	}
	writeJSON(w, http.StatusOK, session.Flags())
}

func (s *Server) shareScreen(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := session.ShareScreen(r.Context()); err != nil {
		writeError(w, session.ID(), err)
		return
	}
	writeJSON(w, http.StatusOK, session.Flags())
}

func (s *Server) stopScreenShare(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	if session.State() != call.StateActive {
		writeError(w, session.ID(), call.ErrInvalidSessionState)
		return
	}
	session.StopScreenShare()
	writeJSON(w, http.StatusOK, session.Flags())
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, session.Stats())
}

// serveEvents streams the session's events until either side closes
func (s *Server) serveEvents(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Error while upgrading ws")
		return
	}

	c := &client{
		id:        shortuuid.New(),
		sessionID: session.ID(),
		conn:      conn,
		send:      make(chan []byte, clientSendSize),
	}
	l := s.logger.With().Str("client_id", c.id).Str("session_id", c.sessionID).Logger()

	if !s.hub.add(c) {
		conn.Close()
		return
	}
	if s.metrics != nil {
		s.metrics.IncrementWebSocketConnections()
		defer s.metrics.DecrementWebSocketConnections()
	}

	go c.writePump(s.pingPeriod, l)
	c.readPump(s.pingPeriod, l)
	s.hub.remove(c)
	l.Info().Msg("Client disconnected")
}
