// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package web exposes the HTTP surface: a liveness endpoint and the chat
// bridge, which lets an external client post messages into the bridge
// channel and receive the channel's traffic over a websocket.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nexy7574/college-bot-v2/internal/config"
)

// =============================================================================
// TYPES
// =============================================================================

// Bot is the slice of the Discord layer the web surface needs.
type Bot interface {
	// Online reports whether the gateway session is up.
	Online() bool
	// Latency is the current gateway heartbeat latency.
	Latency() time.Duration
	// SendBridgeMessage posts a bridged message into the bridge channel.
	SendBridgeMessage(ctx context.Context, sender, message string) error
}

// PingResponse answers GET /ping.
type PingResponse struct {
	Ping      string  `json:"ping"`
	Online    bool    `json:"online"`
	LatencyMS float64 `json:"latency"`
	UptimeSec float64 `json:"uptime"`
}

// =============================================================================
// SERVER
// =============================================================================

// Server is the HTTP server. Construct with New, start with Start, stop
// with Shutdown.
type Server struct {
	cfg     config.ServerConfig
	bot     Bot
	log     *zap.Logger
	hub     *hub
	limiter *rate.Limiter
	started time.Time
	httpSrv *http.Server
}

func New(cfg config.ServerConfig, bot Bot, log *zap.Logger) *Server {
	s := &Server{
		cfg: cfg,
		bot: bot,
		log: log,
		hub: newHub(log),
		// The original bridge gated senders to one message every ten
		// seconds; the limiter enforces the same cadence.
		limiter: rate.NewLimiter(rate.Every(10*time.Second), 1),
		started: time.Now(),
	}
	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes assembles the router. Exposed for tests.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/ping", s.handlePing)
	r.Post("/bridge", s.handleBridgePost)
	r.Get("/bridge/recv", s.handleBridgeRecv)
	return r
}

// Start serves until Shutdown is called. Blocks.
func (s *Server) Start() error {
	s.log.Info("web server listening", zap.String("addr", s.httpSrv.Addr))
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and closes every bridge socket.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.closeAll()
	return s.httpSrv.Shutdown(ctx)
}

// Broadcast pushes a bridge event to every connected websocket. Called by
// the Discord message listener.
func (s *Server) Broadcast(p MessagePayload) {
	s.hub.broadcast(p)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

// =============================================================================
// HANDLERS
// =============================================================================

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, PingResponse{
		Ping:      "pong",
		Online:    s.bot.Online(),
		LatencyMS: float64(s.bot.Latency()) / float64(time.Millisecond),
		UptimeSec: time.Since(s.started).Seconds(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
