package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/healthbridge/chat-client/internal/llm"
	"github.com/healthbridge/chat-client/internal/model"
	"github.com/healthbridge/chat-client/pkg/logger"
)

// streamTimeout bounds one assistant reply, including model latency.
const streamTimeout = 2 * time.Minute

// MessageService stores messages and orchestrates assistant replies. Every
// realtime frame a reply produces is fanned out to the conversation's
// websocket subscribers.
type MessageService struct {
	conversationService *ConversationService
	llmClient           llm.Client
	logger              *logger.Logger

	mu       sync.RWMutex
	messages map[string][]model.Message
	subs     map[string]map[chan *model.Frame]struct{}
}

// NewMessageService creates a new message service.
func NewMessageService(conversationService *ConversationService, llmClient llm.Client, log *logger.Logger) *MessageService {
	return &MessageService{
		conversationService: conversationService,
		llmClient:           llmClient,
		logger:              log,
		messages:            make(map[string][]model.Message),
		subs:                make(map[string]map[chan *model.Frame]struct{}),
	}
}

// Subscribe registers a websocket session for a conversation's frames.
// The returned cancel function must be called when the session ends.
func (s *MessageService) Subscribe(conversationID string) (<-chan *model.Frame, func()) {
	ch := make(chan *model.Frame, 64)

	s.mu.Lock()
	if s.subs[conversationID] == nil {
		s.subs[conversationID] = make(map[chan *model.Frame]struct{})
	}
	s.subs[conversationID][ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		delete(s.subs[conversationID], ch)
		s.mu.Unlock()
	}
	return ch, cancel
}

// publish fans a frame out to all subscribers. Slow subscribers lose
// frames rather than stalling the stream.
func (s *MessageService) publish(conversationID string, frame *model.Frame) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for ch := range s.subs[conversationID] {
		select {
		case ch <- frame:
		default:
			s.logger.Warn("dropping frame for slow subscriber",
				zap.String("conversation_id", conversationID),
				zap.String("type", string(frame.Type)),
			)
		}
	}
}

// History retrieves a conversation's messages in chronological order.
func (s *MessageService) History(ctx context.Context, userID, conversationID string) ([]model.Message, error) {
	if _, err := s.conversationService.Get(ctx, userID, conversationID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := make([]model.Message, len(s.messages[conversationID]))
	copy(msgs, s.messages[conversationID])
	return msgs, nil
}

// HandleUserMessage stores a user message, confirms it over the realtime
// channel, and kicks off the assistant reply. Both the REST send endpoint
// and inbound websocket payloads land here.
func (s *MessageService) HandleUserMessage(ctx context.Context, userID, conversationID, content string) (*model.Message, error) {
	if _, err := s.conversationService.Get(ctx, userID, conversationID); err != nil {
		return nil, err
	}

	id := uuid.Must(uuid.NewV7()).String()
	userMsg := s.append(conversationID, model.Message{
		ID:             id,
		ConversationID: conversationID,
		ExchangeID:     id,
		Role:           model.RoleUser,
		Content:        content,
		CreatedAt:      time.Now(),
	})
	s.conversationService.Touch(ctx, conversationID)

	s.publishMessage(conversationID, userMsg)
	s.publish(conversationID, &model.Frame{Type: model.FrameTypingStart})

	// the reply outlives the HTTP request that triggered it
	go s.streamReply(conversationID, userMsg.ID)

	return &userMsg, nil
}

// streamReply generates the assistant reply, emitting the accumulated
// content after every token. Updates carry the full text so far, so a
// client that misses one update self-heals on the next.
func (s *MessageService) streamReply(conversationID, exchangeID string) {
	ctx, cancel := context.WithTimeout(context.Background(), streamTimeout)
	defer cancel()

	history := s.chatHistory(conversationID)

	assistantMsg := s.append(conversationID, model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conversationID,
		ExchangeID:     exchangeID,
		Role:           model.RoleAssistant,
		Content:        "",
		CreatedAt:      time.Now(),
	})
	s.publishMessage(conversationID, assistantMsg)

	var accumulated string
	resp, err := s.llmClient.CompleteStream(ctx, &llm.CompletionRequest{
		Messages: history,
	}, func(token string, index int) error {
		accumulated += token
		s.publish(conversationID, &model.Frame{
			Type:      model.FrameMessageUpdate,
			MessageID: assistantMsg.ID,
			Content:   accumulated,
		})
		return nil
	})

	s.publish(conversationID, &model.Frame{Type: model.FrameTypingEnd})

	if err != nil {
		s.logger.Error("assistant reply failed",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		s.setContent(conversationID, assistantMsg.ID, accumulated)
		s.publish(conversationID, &model.Frame{
			Type:   model.FrameError,
			Detail: "Failed to generate a response. Please try again.",
		})
		return
	}

	assistantMsg.Content = resp.Content
	s.setContent(conversationID, assistantMsg.ID, resp.Content)
	s.conversationService.Touch(ctx, conversationID)

	s.publishMessage(conversationID, assistantMsg)
	s.publish(conversationID, &model.Frame{Type: model.FrameStreamingComplete})
}

// append stores a message and returns the stored copy.
func (s *MessageService) append(conversationID string, msg model.Message) model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	return msg
}

// setContent rewrites a stored message's content once streaming settles.
func (s *MessageService) setContent(conversationID, messageID, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[conversationID]
	for i := range msgs {
		if msgs[i].ID == messageID {
			msgs[i].Content = content
			return
		}
	}
}

// chatHistory converts stored messages to the LLM request format.
func (s *MessageService) chatHistory(conversationID string) []llm.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[conversationID]
	history := make([]llm.ChatMessage, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Content == "" {
			continue
		}
		history = append(history, llm.ChatMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	return history
}

func (s *MessageService) publishMessage(conversationID string, msg model.Message) {
	frame, err := model.NewMessageFrame(model.WireMessage{
		ID:        msg.ID,
		ChatID:    conversationID,
		Role:      msg.Role,
		Content:   msg.Content,
		Timestamp: msg.CreatedAt,
	})
	if err != nil {
		s.logger.Error("failed to encode message frame", zap.Error(err))
		return
	}
	s.publish(conversationID, frame)
}
