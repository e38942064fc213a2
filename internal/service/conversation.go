// Package service provides business logic for the development server.
package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/healthbridge/chat-client/internal/model"
	"github.com/healthbridge/chat-client/pkg/logger"
)

var (
	// ErrNotFound means the conversation does not exist.
	ErrNotFound = errors.New("conversation not found")
	// ErrForbidden means the conversation belongs to another user.
	ErrForbidden = errors.New("conversation belongs to another user")
)

type storedConversation struct {
	model.Conversation
	UserID string
}

// ConversationService holds conversations in memory, which is all the
// development server needs.
type ConversationService struct {
	logger *logger.Logger

	mu            sync.RWMutex
	conversations map[string]*storedConversation
}

// NewConversationService creates a new conversation service.
func NewConversationService(log *logger.Logger) *ConversationService {
	return &ConversationService{
		logger:        log,
		conversations: make(map[string]*storedConversation),
	}
}

// Create creates a new conversation for a user.
func (s *ConversationService) Create(ctx context.Context, userID, title string) (*model.Conversation, error) {
	if title == "" {
		title = model.DefaultTitle
	}
	now := time.Now()

	conv := &storedConversation{
		Conversation: model.Conversation{
			ID:        uuid.Must(uuid.NewV7()).String(),
			Title:     title,
			CreatedAt: now,
			UpdatedAt: now,
		},
		UserID: userID,
	}

	s.mu.Lock()
	s.conversations[conv.ID] = conv
	s.mu.Unlock()

	s.logger.Info("conversation created",
		zap.String("conversation_id", conv.ID),
		zap.String("user_id", userID),
	)

	return &conv.Conversation, nil
}

// Get retrieves a conversation, verifying ownership. A conversation owned
// by another user yields ErrForbidden so the websocket layer can close
// with the right code.
func (s *ConversationService) Get(ctx context.Context, userID, conversationID string) (*model.Conversation, error) {
	s.mu.RLock()
	conv, exists := s.conversations[conversationID]
	s.mu.RUnlock()

	if !exists {
		return nil, ErrNotFound
	}
	if conv.UserID != userID {
		return nil, ErrForbidden
	}
	out := conv.Conversation
	return &out, nil
}

// List retrieves a user's conversations, most recently updated first.
func (s *ConversationService) List(ctx context.Context, userID string) ([]model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	convs := make([]model.Conversation, 0)
	for _, conv := range s.conversations {
		if conv.UserID == userID {
			convs = append(convs, conv.Conversation)
		}
	}

	sort.Slice(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})

	return convs, nil
}

// Rename sets a conversation's title.
func (s *ConversationService) Rename(ctx context.Context, userID, conversationID, title string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[conversationID]
	if !exists {
		return nil, ErrNotFound
	}
	if conv.UserID != userID {
		return nil, ErrForbidden
	}

	if title != "" {
		conv.Title = title
	}
	conv.UpdatedAt = time.Now()

	out := conv.Conversation
	return &out, nil
}

// Delete removes a conversation.
func (s *ConversationService) Delete(ctx context.Context, userID, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[conversationID]
	if !exists {
		return ErrNotFound
	}
	if conv.UserID != userID {
		return ErrForbidden
	}

	delete(s.conversations, conversationID)
	return nil
}

// Touch bumps a conversation's UpdatedAt after message activity.
func (s *ConversationService) Touch(ctx context.Context, conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv, exists := s.conversations[conversationID]; exists {
		conv.UpdatedAt = time.Now()
	}
}
