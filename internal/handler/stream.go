package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/healthbridge/chat-client/internal/middleware"
	"github.com/healthbridge/chat-client/internal/model"
	"github.com/healthbridge/chat-client/internal/service"
	"github.com/healthbridge/chat-client/pkg/logger"
	"github.com/healthbridge/chat-client/pkg/metrics"
)

// Close codes for auth failures on the websocket path. HTTP status codes
// are useless after the upgrade, so rejections ride on the close frame.
const (
	statusAuthFailure  websocket.StatusCode = 4001
	statusUnauthorized websocket.StatusCode = 4003
)

// StreamHandler handles the realtime websocket endpoint.
type StreamHandler struct {
	jwtSecret           string
	messageService      *service.MessageService
	conversationService *service.ConversationService
	logger              *logger.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(
	jwtSecret string,
	msgSvc *service.MessageService,
	convSvc *service.ConversationService,
	log *logger.Logger,
) *StreamHandler {
	return &StreamHandler{
		jwtSecret:           jwtSecret,
		messageService:      msgSvc,
		conversationService: convSvc,
		logger:              log,
	}
}

// inboundPayload is what clients write: either a chat message or a ping.
type inboundPayload struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// Serve handles GET /ws/chat/{id}/
//
// Authentication happens after the upgrade so rejections can carry a
// close code the client distinguishes from transient failures.
func (h *StreamHandler) Serve(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	log := h.logger.WithConversation(conversationID)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Warn("websocket accept failed", zap.Error(err))
		return
	}

	claims, err := middleware.ParseToken(h.jwtSecret, r.URL.Query().Get("token"))
	if err != nil || claims.TokenType != middleware.TokenTypeAccess {
		conn.Close(statusAuthFailure, "Authentication failed. Please log in again.")
		return
	}
	userID := claims.Subject

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if _, err := h.conversationService.Get(ctx, userID, conversationID); err != nil {
		conn.Close(statusUnauthorized, "Unauthorized access to this chat.")
		return
	}

	metrics.ConnectionsActive.Inc()
	defer metrics.ConnectionsActive.Dec()

	if err := h.sendGreeting(ctx, conn, userID, conversationID); err != nil {
		log.Warn("greeting failed", zap.Error(err))
		conn.Close(websocket.StatusInternalError, "failed to initialize session")
		return
	}

	frames, unsubscribe := h.messageService.Subscribe(conversationID)
	defer unsubscribe()

	// writer: fan broadcast frames out to this session
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case frame := <-frames:
				if err := writeFrame(ctx, conn, frame); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	// reader: inbound chat messages and pings
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				log.Debug("websocket session ended")
			} else {
				log.Warn("websocket read failed", zap.Error(err))
			}
			conn.Close(websocket.StatusNormalClosure, "")
			return
		}

		var payload inboundPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			log.Warn("dropping malformed inbound payload", zap.Error(err))
			continue
		}

		switch {
		case payload.Type == "ping":
			if err := writeFrame(ctx, conn, &model.Frame{Type: model.FramePong}); err != nil {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
		case strings.TrimSpace(payload.Content) != "":
			if _, err := h.messageService.HandleUserMessage(ctx, userID, conversationID, payload.Content); err != nil {
				writeFrame(ctx, conn, &model.Frame{
					Type:   model.FrameError,
					Detail: "Failed to process your message.",
				})
			}
		}
	}
}

// sendGreeting delivers the handshake frames a fresh session expects: the
// connection acknowledgment followed by the full message history.
func (h *StreamHandler) sendGreeting(ctx context.Context, conn *websocket.Conn, userID, conversationID string) error {
	if err := writeFrame(ctx, conn, &model.Frame{
		Type:   model.FrameConnectionEstablished,
		ChatID: conversationID,
	}); err != nil {
		return err
	}

	msgs, err := h.messageService.History(ctx, userID, conversationID)
	if err != nil {
		return err
	}

	rows := make([]model.WireMessage, len(msgs))
	for i, msg := range msgs {
		rows[i] = model.WireMessage{
			ID:        msg.ID,
			ChatID:    msg.ConversationID,
			Role:      msg.Role,
			Content:   msg.Content,
			Timestamp: msg.CreatedAt,
		}
	}

	return writeFrame(ctx, conn, &model.Frame{
		Type:     model.FramePreviousMessages,
		Messages: rows,
	})
}

func writeFrame(ctx context.Context, conn *websocket.Conn, frame *model.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
