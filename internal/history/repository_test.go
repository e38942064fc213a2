package history

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthbridge/chat-client/internal/apierr"
	"github.com/healthbridge/chat-client/internal/model"
	"github.com/healthbridge/chat-client/internal/session"
	"github.com/healthbridge/chat-client/pkg/logger"
)

func newRepo(t *testing.T, handler http.HandlerFunc) (*Repository, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	sess := session.NewStore(srv.URL, srv.Client(), logger.Nop())
	sess.Set(session.Credentials{Access: "acc-1", Refresh: "ref-1"})

	return NewRepository(srv.URL, srv.Client(), sess, logger.Nop()), srv
}

func TestListConversationsFillsPlaceholderTitle(t *testing.T) {
	repo, _ := newRepo(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/ai/chats/", r.URL.Path)
		require.Equal(t, "Bearer acc-1", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode([]model.Conversation{
			{ID: "c1", Title: "Named"},
			{ID: "c2", Title: ""},
		})
	})

	convs, err := repo.ListConversations(context.Background())
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, "Named", convs[0].Title)
	assert.Equal(t, model.DefaultTitle, convs[1].Title)
}

func TestCreateConversation(t *testing.T) {
	repo, _ := newRepo(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/ai/chats/", r.URL.Path)
		var req model.CreateConversationRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, model.DefaultTitle, req.Title)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(model.Conversation{ID: "c9", Title: req.Title})
	})

	conv, err := repo.CreateConversation(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "c9", conv.ID)
	assert.Equal(t, model.DefaultTitle, conv.Title)
}

func TestFetchMessagesExpandsLegacyRows(t *testing.T) {
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	repo, _ := newRepo(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/ai/chat/c1/messages/", r.URL.Path)
		json.NewEncoder(w).Encode([]map[string]any{
			// legacy paired row
			{"id": "r1", "content": "first question", "response": "first answer", "timestamp": base},
			// canonical single-author row
			{"id": "m3", "role": "user", "content": "second question", "timestamp": base.Add(time.Minute)},
		})
	})

	msgs, err := repo.FetchMessages(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	assert.Equal(t, "r1", msgs[0].ID)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "r1:response", msgs[1].ID)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "r1", msgs[1].ExchangeID)
	assert.Equal(t, "m3", msgs[2].ID)
	assert.Equal(t, "c1", msgs[0].ConversationID)
}

func TestFetchMessagesSortsChronologically(t *testing.T) {
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	repo, _ := newRepo(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{
			{"id": "m2", "role": "user", "content": "later", "timestamp": base.Add(time.Hour)},
			{"id": "m1", "role": "user", "content": "earlier", "timestamp": base},
		})
	})

	msgs, err := repo.FetchMessages(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "m2", msgs[1].ID)
}

func TestSendMessage(t *testing.T) {
	repo, _ := newRepo(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/ai/chat/c1/messages/", r.URL.Path)
		var req model.SendMessageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "hello", req.Content)
		w.WriteHeader(http.StatusCreated)
	})

	require.NoError(t, repo.SendMessage(context.Background(), "c1", "hello"))
}

func TestRenameConversation(t *testing.T) {
	repo, _ := newRepo(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)
		require.Equal(t, "/ai/chat/c1/", r.URL.Path)
		var req model.RenameConversationRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "New title", req.Title)
		json.NewEncoder(w).Encode(model.Conversation{ID: "c1", Title: req.Title})
	})

	require.NoError(t, repo.RenameConversation(context.Background(), "c1", "New title"))
}

func TestDeleteConversationMapsNotFound(t *testing.T) {
	repo, _ := newRepo(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNotFound)
	})

	err := repo.DeleteConversation(context.Background(), "c1")

	var notFound *apierr.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestUnauthorizedTriggersOneRefreshAndRetry(t *testing.T) {
	var apiCalls atomic.Int32
	repo, _ := newRepo(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/refresh/" {
			json.NewEncoder(w).Encode(map[string]string{"access": "acc-2"})
			return
		}
		apiCalls.Add(1)
		if r.Header.Get("Authorization") != "Bearer acc-2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode([]model.Conversation{{ID: "c1", Title: "After refresh"}})
	})

	convs, err := repo.ListConversations(context.Background())
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, int32(2), apiCalls.Load(), "one failed call, one retried call")
}

func TestPersistentUnauthorizedSurfacesAuthError(t *testing.T) {
	repo, _ := newRepo(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/refresh/" {
			json.NewEncoder(w).Encode(map[string]string{"access": "acc-2"})
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := repo.ListConversations(context.Background())

	var authErr *apierr.AuthError
	require.ErrorAs(t, err, &authErr)
}

func TestNoCredentialShortCircuits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected without a credential")
	}))
	defer srv.Close()

	sess := session.NewStore(srv.URL, srv.Client(), logger.Nop())
	repo := NewRepository(srv.URL, srv.Client(), sess, logger.Nop())

	_, err := repo.ListConversations(context.Background())

	var authErr *apierr.AuthError
	require.ErrorAs(t, err, &authErr)
}
