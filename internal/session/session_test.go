package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthbridge/chat-client/internal/apierr"
	"github.com/healthbridge/chat-client/pkg/logger"
)

func signToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   "demo",
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestLoginInstallsCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/login/", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "demo", body["username"])
		json.NewEncoder(w).Encode(map[string]string{"access": "acc-1", "refresh": "ref-1"})
	}))
	defer srv.Close()

	s := NewStore(srv.URL, srv.Client(), logger.Nop())
	require.NoError(t, s.Login(context.Background(), "demo", "demo"))

	assert.True(t, s.Present())
	assert.Equal(t, "acc-1", s.AccessToken())
	assert.Equal(t, "ref-1", s.Credentials().Refresh)
}

func TestLoginRejectedReturnsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := NewStore(srv.URL, srv.Client(), logger.Nop())
	err := s.Login(context.Background(), "demo", "wrong")

	var authErr *apierr.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.False(t, s.Present())
}

func TestRefreshReplacesAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/refresh/", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ref-1", body["refresh"])
		json.NewEncoder(w).Encode(map[string]string{"access": "acc-2", "refresh": "ref-2"})
	}))
	defer srv.Close()

	s := NewStore(srv.URL, srv.Client(), logger.Nop())
	s.Set(Credentials{Access: "acc-1", Refresh: "ref-1"})

	require.NoError(t, s.RefreshIfStale(context.Background(), "acc-1"))

	creds := s.Credentials()
	assert.Equal(t, "acc-2", creds.Access)
	assert.Equal(t, "ref-2", creds.Refresh)
}

func TestRefreshSkippedWhenTokenAlreadyReplaced(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(map[string]string{"access": "acc-3"})
	}))
	defer srv.Close()

	s := NewStore(srv.URL, srv.Client(), logger.Nop())
	s.Set(Credentials{Access: "acc-2", Refresh: "ref-1"})

	// the caller still holds acc-1, but someone already refreshed
	require.NoError(t, s.RefreshIfStale(context.Background(), "acc-1"))

	assert.Equal(t, int32(0), calls.Load())
	assert.Equal(t, "acc-2", s.AccessToken())
}

func TestConcurrentRefreshesShareOneFlight(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		json.NewEncoder(w).Encode(map[string]string{"access": "acc-2"})
	}))
	defer srv.Close()

	s := NewStore(srv.URL, srv.Client(), logger.Nop())
	s.Set(Credentials{Access: "acc-1", Refresh: "ref-1"})

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.RefreshIfStale(context.Background(), "acc-1")
		}(i)
	}

	// let all callers pile up behind the single flight
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "acc-2", s.AccessToken())
}

func TestRejectedRefreshClearsCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := NewStore(srv.URL, srv.Client(), logger.Nop())
	s.Set(Credentials{Access: "acc-1", Refresh: "ref-1"})

	err := s.RefreshIfStale(context.Background(), "acc-1")

	var authErr *apierr.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.False(t, s.Present())
}

func TestRefreshWithoutRefreshTokenFails(t *testing.T) {
	s := NewStore("http://unused", http.DefaultClient, logger.Nop())
	s.Set(Credentials{Access: "acc-1"})

	err := s.RefreshIfStale(context.Background(), "acc-1")

	var authErr *apierr.AuthError
	require.ErrorAs(t, err, &authErr)
}

func TestExpired(t *testing.T) {
	s := NewStore("http://unused", http.DefaultClient, logger.Nop())
	now := time.Now()

	assert.True(t, s.Expired(now), "empty store counts as expired")

	s.Set(Credentials{Access: signToken(t, now.Add(time.Hour))})
	assert.False(t, s.Expired(now))

	s.Set(Credentials{Access: signToken(t, now.Add(-time.Minute))})
	assert.True(t, s.Expired(now))

	// opaque token: leave rejection to the server
	s.Set(Credentials{Access: "not-a-jwt"})
	assert.False(t, s.Expired(now))
}

func TestSubscribeDeliversLatestCredentials(t *testing.T) {
	s := NewStore("http://unused", http.DefaultClient, logger.Nop())
	sub := s.Subscribe()

	s.Set(Credentials{Access: "acc-1"})
	s.Set(Credentials{Access: "acc-2"})

	// the buffered channel keeps only the newest update
	select {
	case creds := <-sub:
		assert.Equal(t, "acc-2", creds.Access)
	case <-time.After(time.Second):
		t.Fatal("no credential update delivered")
	}
}
