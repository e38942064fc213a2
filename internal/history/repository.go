// Package history is the REST client for persisted conversations and
// messages. It is the request/response counterpart of the realtime channel:
// listing, creating, renaming, and deleting conversations, and seeding a
// conversation's message history before live frames take over.
package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/healthbridge/chat-client/internal/apierr"
	"github.com/healthbridge/chat-client/internal/model"
	"github.com/healthbridge/chat-client/internal/session"
	"github.com/healthbridge/chat-client/pkg/logger"
	"github.com/healthbridge/chat-client/pkg/metrics"
)

// Repository talks to the conversation resource collection.
type Repository struct {
	baseURL string
	client  *http.Client
	session *session.Store
	log     *logger.Logger
}

// NewRepository creates a repository rooted at baseURL, attaching
// credentials from the given session store to every request.
func NewRepository(baseURL string, client *http.Client, sess *session.Store, log *logger.Logger) *Repository {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Repository{
		baseURL: baseURL,
		client:  client,
		session: sess,
		log:     log,
	}
}

// ListConversations returns the caller's conversations, newest activity
// first, as the server orders them.
func (r *Repository) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	var convs []model.Conversation
	if err := r.do(ctx, http.MethodGet, "/ai/chats/", nil, &convs, "list conversations"); err != nil {
		return nil, err
	}
	for i := range convs {
		if convs[i].Title == "" {
			convs[i].Title = model.DefaultTitle
		}
	}
	return convs, nil
}

// CreateConversation creates a conversation with the placeholder title.
func (r *Repository) CreateConversation(ctx context.Context) (*model.Conversation, error) {
	req := model.CreateConversationRequest{Title: model.DefaultTitle}
	var conv model.Conversation
	if err := r.do(ctx, http.MethodPost, "/ai/chats/", req, &conv, "create conversation"); err != nil {
		return nil, err
	}
	if conv.Title == "" {
		conv.Title = model.DefaultTitle
	}
	return &conv, nil
}

// FetchMessages returns a conversation's persisted messages in
// chronological order. Legacy rows carrying a paired response field are
// expanded into free-standing user and assistant messages.
func (r *Repository) FetchMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	var rows []model.WireMessage
	path := fmt.Sprintf("/ai/chat/%s/messages/", conversationID)
	if err := r.do(ctx, http.MethodGet, path, nil, &rows, "fetch messages"); err != nil {
		return nil, err
	}

	msgs := make([]model.Message, 0, len(rows))
	for i := range rows {
		msgs = append(msgs, rows[i].ToMessages(conversationID)...)
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	return msgs, nil
}

// SendMessage posts a user message. The server's acceptance is all that
// matters here; the confirmed message and the assistant reply arrive over
// the realtime channel.
func (r *Repository) SendMessage(ctx context.Context, conversationID, content string) error {
	path := fmt.Sprintf("/ai/chat/%s/messages/", conversationID)
	return r.do(ctx, http.MethodPost, path, model.SendMessageRequest{Content: content}, nil, "send message")
}

// RenameConversation sets a conversation's display title.
func (r *Repository) RenameConversation(ctx context.Context, conversationID, title string) error {
	path := fmt.Sprintf("/ai/chat/%s/", conversationID)
	return r.do(ctx, http.MethodPatch, path, model.RenameConversationRequest{Title: title}, nil, "rename conversation")
}

// DeleteConversation removes a conversation server-side. A NotFoundError
// is returned as such; callers treat it as success.
func (r *Repository) DeleteConversation(ctx context.Context, conversationID string) error {
	path := fmt.Sprintf("/ai/chat/%s/", conversationID)
	return r.do(ctx, http.MethodDelete, path, nil, nil, "delete conversation")
}

// do executes one request with the current credential. A 401 earns exactly
// one silent refresh-and-retry before surfacing AuthError.
func (r *Repository) do(ctx context.Context, method, path string, body, out any, op string) error {
	access := r.session.AccessToken()
	if access == "" {
		return &apierr.AuthError{Op: op, Detail: "no credential"}
	}

	status, err := r.once(ctx, method, path, body, out, op, access)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized {
		if err := r.session.RefreshIfStale(ctx, access); err != nil {
			return err
		}
		status, err = r.once(ctx, method, path, body, out, op, r.session.AccessToken())
		if err != nil {
			return err
		}
		if status == http.StatusUnauthorized {
			return &apierr.AuthError{Op: op, Detail: "credential rejected after refresh"}
		}
	}
	return r.statusError(status, path, op)
}

func (r *Repository) once(ctx context.Context, method, path string, body, out any, op, access string) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, &apierr.TransportError{Op: op, Err: err}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return 0, &apierr.TransportError{Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+access)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return 0, &apierr.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	metrics.RecordRequest(method, path, resp.Status, time.Since(start).Seconds())

	if resp.StatusCode >= 200 && resp.StatusCode < 300 && out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, &apierr.TransportError{Op: op, Err: err}
		}
	}
	return resp.StatusCode, nil
}

func (r *Repository) statusError(status int, path, op string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return &apierr.NotFoundError{Resource: "conversation", ID: path}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &apierr.AuthError{Op: op}
	default:
		r.log.Warn("unexpected api response", zap.String("op", op), zap.Int("status", status))
		return &apierr.TransportError{Op: op, Err: fmt.Errorf("unexpected status %d", status)}
	}
}
