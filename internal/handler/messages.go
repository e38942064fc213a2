package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/healthbridge/chat-client/internal/middleware"
	"github.com/healthbridge/chat-client/internal/model"
	"github.com/healthbridge/chat-client/internal/service"
	"github.com/healthbridge/chat-client/pkg/logger"
)

// MessageHandler handles message endpoints.
type MessageHandler struct {
	messageService *service.MessageService
	logger         *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(msgSvc *service.MessageService, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		messageService: msgSvc,
		logger:         log,
	}
}

// List handles GET /ai/chat/{id}/messages/
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msgs, err := h.messageService.History(ctx, userID, conversationID)
	if err != nil {
		writeServiceError(w, err)
		return
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

	writeJSON(w, http.StatusOK, rows)
}

// Send handles POST /ai/chat/{id}/messages/
//
// The response only acknowledges acceptance; the confirmed message and the
// assistant reply arrive over the websocket.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := h.messageService.HandleUserMessage(ctx, userID, conversationID, req.Content)
	if err != nil {
		h.logger.Error("failed to accept message", zap.Error(err))
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"id":     msg.ID,
		"status": "accepted",
	})
}
