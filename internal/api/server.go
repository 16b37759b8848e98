// Package api exposes the controller over HTTP: the REST endpoints the
// frontend drives, the display page the TV loads, and the WebSocket
// stream carrying live events. Responses are JSON only.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/netutil"

	"firestige.xyz/textcast/internal/core"
	"firestige.xyz/textcast/internal/history"
	"firestige.xyz/textcast/internal/log"
	"firestige.xyz/textcast/internal/session"
)

// Controller is the slice of the session controller the API drives.
type Controller interface {
	Connect(ctx context.Context) (string, error)
	Disconnect(ctx context.Context) error
	SendText(ctx context.Context, text string) (session.SendResult, error)
	GetStatus() session.Status
	CurrentText() (string, uint64)
}

// TrafficReader supplies the live observation snapshot.
type TrafficReader interface {
	Snapshot() core.TrafficSnapshot
}

// History is the slice of the history store the read endpoints use.
type History interface {
	RecentMessages(ctx context.Context, limit int) ([]history.Message, error)
	RecentSessions(ctx context.Context, limit int) ([]history.SessionRecord, error)
	PacketTotals(ctx context.Context, sessionID string) (history.PacketRollup, error)
}

// Config carries the HTTP server tunables.
type Config struct {
	Listen string
	// MaxConns caps concurrent connections at the listener; 0 means
	// unlimited.
	MaxConns int
	// AllowedOrigins restricts CORS and WebSocket origins; empty allows
	// any origin, which fits the LAN-tool deployment.
	AllowedOrigins []string
}

// Server hosts the REST API, the display page, and the WebSocket hub.
type Server struct {
	cfg     Config
	ctrl    Controller
	traffic TrafficReader
	hist    History
	hub     *Hub
	logger  log.Logger

	srv *http.Server
	ln  net.Listener
}

// New builds the server. traffic and hist may be nil when observation
// or history is disabled; hub may be nil when nothing subscribes.
func New(cfg Config, ctrl Controller, traffic TrafficReader, hist History, hub *Hub) *Server {
	s := &Server{
		cfg:     cfg,
		ctrl:    ctrl,
		traffic: traffic,
		hist:    hist,
		hub:     hub,
		logger:  log.GetLogger(),
	}
	if hub != nil {
		hub.allowOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin)
		}
	}
	return s
}

// Handler builds the routed handler with the browser headers applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/cast/connect", s.handleConnect)
	mux.HandleFunc("POST /api/cast/disconnect", s.handleDisconnect)
	mux.HandleFunc("POST /api/cast/send", s.handleSend)
	mux.HandleFunc("GET /api/cast/status", s.handleStatus)
	mux.HandleFunc("GET /api/cast/current-text", s.handleCurrentText)
	mux.HandleFunc("GET /api/tv/heartbeat", s.handleHeartbeat)
	mux.HandleFunc("GET /api/messages/history", s.handleMessageHistory)
	mux.HandleFunc("GET /api/sessions", s.handleSessions)
	mux.HandleFunc("GET /api/packets/stats", s.handlePacketStats)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /display", s.handleDisplay)
	if s.hub != nil {
		mux.HandleFunc("GET /ws", s.hub.handleUpgrade)
	}

	return s.withBrowserHeaders(mux)
}

// withBrowserHeaders adds the CORS and Private Network Access headers
// every response needs when the frontend and the TV talk to a private
// address, and short-circuits preflight requests.
func (s *Server) withBrowserHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Private-Network", "true")

		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Requested-With")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == origin || allowed == "*" {
			return true
		}
	}
	return false
}

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("api: listen %s: %w", s.cfg.Listen, err)
	}
	if s.cfg.MaxConns > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConns)
	}
	s.ln = ln

	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Infof("api server listening on %s", ln.Addr())

	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("api server error")
		}
	}()

	return nil
}

// Addr returns the bound address, useful when Listen used port 0.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.cfg.Listen
	}
	return s.ln.Addr().String()
}

// Stop drains in-flight requests and closes WebSocket clients.
func (s *Server) Stop(ctx context.Context) error {
	if s.hub != nil {
		s.hub.closeAll()
	}
	if s.srv == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown failed: %w", err)
	}

	s.logger.Info("api server stopped")
	return nil
}
