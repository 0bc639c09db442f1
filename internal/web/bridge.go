// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package web

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// =============================================================================
// BRIDGE TYPES
// =============================================================================

// maxBridgeMessage caps bridged message bodies.
const maxBridgeMessage = 4000

// BridgePayload is the POST /bridge request body.
type BridgePayload struct {
	Secret  string `json:"secret"`
	Message string `json:"message"`
	Sender  string `json:"sender"`
}

// BridgeResponse is the POST /bridge response body.
type BridgeResponse struct {
	Status string `json:"status"`
}

// MessagePayload is one bridge-channel event pushed to websocket clients.
type MessagePayload struct {
	EventType   string   `json:"event_type"` // "create", "edit", "delete"
	MessageID   string   `json:"message_id"`
	Author      string   `json:"author"`
	IsAutomated bool     `json:"is_automated"`
	Avatar      string   `json:"avatar"`
	Content     string   `json:"content"`
	At          float64  `json:"at"` // unix seconds
	Attachments []string `json:"attachments"`
	ReplyTo     string   `json:"reply_to,omitempty"`
}

func secretMatches(configured, supplied string) bool {
	if configured == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(supplied)) == 1
}

// =============================================================================
// POST /bridge
// =============================================================================

func (s *Server) handleBridgePost(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Secret == "" {
		http.Error(w, "bridge is not configured", http.StatusNotImplemented)
		return
	}
	var payload BridgePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if !secretMatches(s.cfg.Secret, payload.Secret) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if payload.Message == "" || len(payload.Message) > maxBridgeMessage {
		http.Error(w, "message must be 1-4000 characters", http.StatusBadRequest)
		return
	}
	if !s.limiter.Allow() {
		http.Error(w, "too many messages", http.StatusTooManyRequests)
		return
	}
	if err := s.bot.SendBridgeMessage(r.Context(), payload.Sender, payload.Message); err != nil {
		s.log.Error("bridge send failed", zap.Error(err))
		http.Error(w, "could not deliver message", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, BridgeResponse{Status: "ok"})
}

// =============================================================================
// GET /bridge/recv (websocket)
// =============================================================================

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The bridge client is not a browser; origin checks do not apply.
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *Server) handleBridgeRecv(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	if !secretMatches(s.cfg.Secret, r.URL.Query().Get("secret")) {
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad secret")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(5*time.Second))
		conn.Close()
		return
	}

	queue := s.hub.register(conn)
	defer s.hub.unregister(conn)
	s.log.Info("bridge client connected", zap.String("remote", r.RemoteAddr))

	// Reader exists only to notice the peer going away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.hub.unregister(conn)
				return
			}
		}
	}()

	for payload := range queue {
		if err := conn.WriteJSON(payload); err != nil {
			s.log.Debug("bridge client write failed", zap.Error(err))
			return
		}
	}
}

// =============================================================================
// FAN-OUT HUB
// =============================================================================

// hub tracks connected bridge clients. Each connection gets a buffered
// queue; a slow client drops events rather than stalling the rest.
type hub struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]chan MessagePayload
	log   *zap.Logger
}

func newHub(log *zap.Logger) *hub {
	return &hub{
		conns: make(map[*websocket.Conn]chan MessagePayload),
		log:   log,
	}
}

func (h *hub) register(conn *websocket.Conn) chan MessagePayload {
	h.mu.Lock()
	defer h.mu.Unlock()
	queue := make(chan MessagePayload, 64)
	h.conns[conn] = queue
	return queue
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if queue, ok := h.conns[conn]; ok {
		delete(h.conns, conn)
		close(queue)
		conn.Close()
	}
}

func (h *hub) broadcast(p MessagePayload) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, queue := range h.conns {
		select {
		case queue <- p:
		default:
			h.log.Warn("bridge client queue full, dropping event",
				zap.String("remote", conn.RemoteAddr().String()))
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, queue := range h.conns {
		delete(h.conns, conn)
		close(queue)
		conn.Close()
	}
}
