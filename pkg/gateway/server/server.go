// Package server wires the gateway's HTTP surface: session start, websocket
// upgrade, health, and metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicewire/voicewire/pkg/gateway/config"
	"github.com/voicewire/voicewire/pkg/gateway/flow"
	"github.com/voicewire/voicewire/pkg/gateway/metrics"
	"github.com/voicewire/voicewire/pkg/gateway/session"
	"github.com/voicewire/voicewire/pkg/gateway/sessions"
)

// Server hosts the gateway endpoints and owns session lifecycle.
type Server struct {
	cfg     config.Config
	logger  *slog.Logger
	catalog flow.Catalog
	tracker *sessions.Tracker
	metrics *metrics.Metrics

	upgrader websocket.Upgrader

	baseCtx context.Context
}

// New creates a server. The catalog must already be validated.
func New(cfg config.Config, catalog flow.Catalog, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		logger:  logger,
		catalog: catalog,
		tracker: sessions.NewTracker(),
		metrics: metrics.New(),
		baseCtx: context.Background(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  16 * 1024,
		WriteBufferSize: 16 * 1024,
		CheckOrigin: func(r *http.Request) bool {
			return cfg.OriginAllowed(r.Header.Get("Origin"))
		},
	}
	return s
}

// Handler returns the gateway's HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/start", s.handleStart)
	mux.HandleFunc("/api/ws", s.handleWS)
	mux.Handle("/metrics", s.metrics.Handler())
	return mux
}

// Run serves until the context ends, then drains sessions within the
// shutdown grace period.
func (s *Server) Run(ctx context.Context) error {
	s.baseCtx = ctx

	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("gateway listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	grace := s.cfg.ShutdownGracePeriod
	if grace <= 0 {
		grace = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	s.tracker.NotifyAll("shutting_down", "gateway is shutting down")
	s.tracker.CancelAll()
	if !s.tracker.Wait(shutdownCtx) {
		s.logger.Warn("sessions did not drain within grace period", "remaining", s.tracker.Count())
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("gateway stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":          "ok",
		"active_sessions": s.tracker.Count(),
	})
}

// handleStart creates a session ID and hands back the websocket URL to dial.
// The request is idempotent in effect: each call simply yields a fresh
// session slot, no server state is committed until the websocket arrives.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin != "" && s.cfg.OriginAllowed(origin) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if origin != "" && !s.cfg.OriginAllowed(origin) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	sessionID := sessions.NewID()
	wsURL, err := s.wsURL(r, sessionID)
	if err != nil {
		s.logger.Error("building ws url", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"session_id": sessionID,
		"ws_url":     wsURL,
	})
}

func (s *Server) wsURL(r *http.Request, sessionID string) (string, error) {
	if s.cfg.PublicBaseURL != "" {
		base, err := url.Parse(s.cfg.PublicBaseURL)
		if err != nil {
			return "", fmt.Errorf("parse public base url: %w", err)
		}
		switch base.Scheme {
		case "https":
			base.Scheme = "wss"
		case "http", "":
			base.Scheme = "ws"
		}
		base.Path = strings.TrimSuffix(base.Path, "/") + "/api/ws"
		base.RawQuery = "session=" + sessionID
		return base.String(), nil
	}

	scheme := "ws"
	if r.TLS != nil {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s/api/ws?session=%s", scheme, r.Host, sessionID), nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		sessionID = sessions.NewID()
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	s.metrics.SessionsTotal.Inc()
	s.metrics.SessionsActive.Inc()
	defer s.metrics.SessionsActive.Dec()

	// Fresh engine per connection: conversation progress resets on connect.
	sess := session.New(sessionID, conn, flow.NewEngine(s.catalog), session.Config{
		MaxAudioFrameBytes:   s.cfg.MaxAudioFrameBytes,
		MaxAudioFPS:          s.cfg.MaxAudioFPS,
		AudioBurstFrames:     s.cfg.AudioBurstFrames,
		SpeechStartThreshold: s.cfg.SpeechStartThreshold,
		SpeechStopThreshold:  s.cfg.SpeechStopThreshold,
		SpeechStopDuration:   s.cfg.SpeechStopDuration,
		WriteTimeout:         s.cfg.WriteTimeout,
		PingInterval:         s.cfg.PingInterval,
	}, s.logger, s.metrics)

	unregister := s.tracker.Register(sessionID, sessions.Handle{
		Cancel:      sess.Cancel,
		NotifyError: sess.NotifyError,
	})
	defer unregister()

	s.logger.Info("session connected", "session_id", sessionID)
	if err := sess.Run(s.baseCtx); err != nil {
		s.logger.Warn("session ended with error", "session_id", sessionID, "error", err)
	} else {
		s.logger.Info("session ended", "session_id", sessionID)
	}
}
