// Package ws serves chat turns over a WebSocket instead of SSE. The client
// sends one turn request after connecting and receives the same event
// sequence the SSE endpoint emits.
package ws

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/lumenchat/backend/internal/middleware"
	"github.com/lumenchat/backend/internal/service/pipeline"
)

const (
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
)

// Handler upgrades chat connections and runs turns over them.
type Handler struct {
	pipe         *pipeline.Pipeline
	defaultModel string
	upgrader     websocket.Upgrader
}

// New creates the websocket chat handler.
func New(pipe *pipeline.Pipeline, defaultModel string) *Handler {
	return &Handler{
		pipe:         pipe,
		defaultModel: defaultModel,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the websocket endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

// turnRequest is the single inbound message a client sends after connecting.
type turnRequest struct {
	Message          string `json:"message"`
	ConversationID   string `json:"conversationId"`
	Model            string `json:"model"`
	SearchEnabled    bool   `json:"enableSearch"`
	ReasoningEnabled bool   `json:"enableReasoning"`
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	account, ok := middleware.UserFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed: %v", err)
		return
	}

	log.Printf("[ws] new connection user=%s", account.ID)

	conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	var req turnRequest
	if err := conn.ReadJSON(&req); err != nil {
		log.Printf("[ws] failed to read turn request: %v", err)
		conn.Close()
		return
	}

	turn := pipeline.Turn{
		UserID:           account.ID,
		ConversationID:   req.ConversationID,
		Text:             req.Message,
		ModelKey:         req.Model,
		SearchEnabled:    req.SearchEnabled,
		ReasoningEnabled: req.ReasoningEnabled,
	}
	if turn.ModelKey == "" {
		turn.ModelKey = h.defaultModel
	}

	sink := &wsSink{conn: conn}
	if _, err := h.pipe.Validate(turn); err != nil {
		sink.Send(pipeline.Event{Name: pipeline.EventError, Data: map[string]string{"message": err.Error()}})
		sink.Close()
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.pingLoop(ctx, conn)
	// A client hangup aborts the in-flight turn.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
			conn.SetReadDeadline(time.Now().Add(readDeadline))
		}
	}()

	if err := h.pipe.Run(ctx, turn, sink); err != nil {
		log.Printf("[ws] turn failed user=%s model=%s: %v", account.ID, turn.ModelKey, err)
	}
}

func (h *Handler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(54 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// WriteControl is safe alongside the sink's writes.
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				return
			}
		}
	}
}
