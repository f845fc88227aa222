package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kuntur/kuntur/internal/armed"
	"github.com/kuntur/kuntur/internal/camera"
	"github.com/kuntur/kuntur/internal/health"
	"github.com/kuntur/kuntur/internal/kuntur"
	"github.com/kuntur/kuntur/internal/logging"
	"github.com/kuntur/kuntur/internal/profile"
	"github.com/kuntur/kuntur/internal/stream"
)

// ServerOptions configures NewServer.
type ServerOptions struct {
	AllowedOrigins []string
	AuthToken      string
	// Health is optional; without it /api/health omits host figures.
	Health *health.Sampler
	Logger *slog.Logger
}

// Server exposes the runtime over HTTP: the websocket state feed and the
// intent endpoints. Intents are accepted with 202 and run in the
// background; their effect arrives over the feed.
type Server struct {
	rt             *kuntur.Runtime
	broadcaster    *Broadcaster
	health         *health.Sampler
	log            *slog.Logger
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	authToken      string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer returns the HTTP API and WebSocket endpoint for rt.
func NewServer(rt *kuntur.Runtime, broadcaster *Broadcaster, opts ServerOptions) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		rt:             rt,
		broadcaster:    broadcaster,
		health:         opts.Health,
		log:            logging.OrDiscard(opts.Logger).With("component", "http"),
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		authToken:      opts.AuthToken,
		ctx:            ctx,
		cancel:         cancel,
	}

	for _, origin := range opts.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

// SetupRoutes registers the API handlers on mux.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("GET /api/state", s.authorized(s.handleState))
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.Handle("GET /metrics", s.rt.Metrics().Handler())

	mux.HandleFunc("POST /api/kuntur/{action}", s.authorized(s.handleKuntur))
	mux.HandleFunc("POST /api/video/quality", s.authorized(s.handleQuality))
	mux.HandleFunc("GET /api/video/frame", s.authorized(s.handleFrame))
	mux.HandleFunc("POST /api/video/{action}", s.authorized(s.handleVideo))
	mux.HandleFunc("POST /api/audio/{action}", s.authorized(s.handleAudio))

	mux.HandleFunc("GET /api/profile", s.authorized(s.handleProfile))
	mux.HandleFunc("POST /api/profile/register", s.authorized(s.handleRegister))
}

// Handler returns the routed mux wrapped with the security headers.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return securityHeaders(mux)
}

// Close cancels running intents and waits for them to return.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade error", "error", err)
		return
	}

	c, err := s.broadcaster.AddClient(conn)
	if err != nil {
		s.log.Warn("ws client rejected", "remote", r.RemoteAddr, "error", err)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}
	s.log.Info("websocket client connected", "remote", r.RemoteAddr)

	go func() {
		defer func() {
			s.broadcaster.RemoveClient(c)
			s.log.Info("websocket client disconnected", "remote", r.RemoteAddr)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.rt.State())
}

type healthResponse struct {
	Status     string         `json:"status"`
	Registered bool           `json:"registered"`
	Clients    int            `json:"clients"`
	Host       *health.Report `json:"host,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:     "ok",
		Registered: s.rt.Registrar().IsRegistered(),
		Clients:    s.broadcaster.ClientCount(),
	}
	if s.health != nil {
		if rep, ok := s.health.Latest(); ok {
			resp.Host = &rep
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleKuntur(w http.ResponseWriter, r *http.Request) {
	ctrl, err := s.rt.Armed()
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}

	action := r.PathValue("action")
	var run func(context.Context) error
	switch action {
	case "activate":
		run = ctrl.Activate
	case "deactivate":
		run = ctrl.Deactivate
	case "toggle":
		run = ctrl.Toggle
	case "refresh":
		run = ctrl.Refresh
	default:
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	if ctrl.State().Transitioning {
		writeError(w, http.StatusConflict, armed.ErrTransitioning)
		return
	}
	s.accept(w, "kuntur."+action, run)
}

func (s *Server) handleVideo(w http.ResponseWriter, r *http.Request) {
	mgr, err := s.rt.Streams()
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}

	action := r.PathValue("action")
	var run func(context.Context) error
	switch action {
	case "start":
		run = func(ctx context.Context) error { mgr.StartVideo(ctx); return nil }
	case "stop":
		run = func(context.Context) error { mgr.StopVideo(); return nil }
	case "retry":
		run = func(ctx context.Context) error { mgr.RetryVideo(ctx); return nil }
	case "clear-error":
		run = func(context.Context) error { mgr.ClearVideoError(); return nil }
	default:
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	s.accept(w, "video."+action, run)
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	mgr, err := s.rt.Streams()
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}

	action := r.PathValue("action")
	var run func(context.Context) error
	switch action {
	case "start":
		run = func(ctx context.Context) error { mgr.StartAudio(ctx); return nil }
	case "stop":
		run = func(context.Context) error { mgr.StopAudio(); return nil }
	case "clear-error":
		run = func(context.Context) error { mgr.ClearAudioError(); return nil }
	default:
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	s.accept(w, "audio."+action, run)
}

type qualityRequest struct {
	Quality string `json:"quality"`
}

func (s *Server) handleQuality(w http.ResponseWriter, r *http.Request) {
	mgr, err := s.rt.Streams()
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}

	var req qualityRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decoding request: %w", err))
		return
	}
	q, err := stream.ParseQuality(req.Quality)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := mgr.ChangeQuality(q); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	frame, err := s.rt.Frame(r.Context())
	switch {
	case errors.Is(err, kuntur.ErrNotRegistered), errors.Is(err, kuntur.ErrVideoInactive):
		writeError(w, http.StatusConflict, err)
		return
	case err != nil:
		writeError(w, http.StatusBadGateway, err)
		return
	}

	ct := frame.ContentType
	if ct == "" {
		ct = "image/jpeg"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Cache-Control", "no-store")
	w.Write(frame.Data)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	p := s.rt.Registrar().Current()
	if p == nil {
		writeError(w, http.StatusNotFound, profile.ErrNotRegistered)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var reg profile.Registration
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&reg); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decoding request: %w", err))
		return
	}

	p, err := s.rt.Register(r.Context(), reg)
	var verr *profile.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Error(), Field: verr.Field})
		return
	case errors.Is(err, camera.ErrEndpointLocked):
		writeError(w, http.StatusConflict, err)
		return
	case err != nil:
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// accept answers 202 and runs fn in the background. A failure is reported
// on the feed as an error message.
func (s *Server) accept(w http.ResponseWriter, op string, fn func(context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := fn(s.ctx); err != nil && s.ctx.Err() == nil {
			s.log.Warn("intent failed", "op", op, "error", err)
			s.broadcaster.ReportError(op, err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "op": op})
}

func (s *Server) authorized(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authorize(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	if r.Header.Get("X-Kuntur-Token") == s.authToken {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}

	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}

	if host == r.Host {
		return true
	}

	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}

	return false
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Content-Security-Policy", "default-src 'self'")
		next.ServeHTTP(w, r)
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

// ListenAndServe serves h on addr until ctx is cancelled, then shuts down
// gracefully.
func ListenAndServe(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	log := logging.OrDiscard(logger)
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}
