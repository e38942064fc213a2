// Package session holds the current access/refresh credential pair and
// performs silent token refresh for its dependents.
//
// The store is an explicit object handed to the history repository and the
// realtime channel at construction; there is no process-wide credential
// slot. Dependents subscribe to learn when a refresh replaced the access
// token so they can re-authenticate.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/healthbridge/chat-client/internal/apierr"
	"github.com/healthbridge/chat-client/pkg/logger"
	"github.com/healthbridge/chat-client/pkg/metrics"
)

// Credentials is an access/refresh token pair.
type Credentials struct {
	Access  string
	Refresh string
}

// Store owns the current credential pair.
type Store struct {
	loginURL   string
	refreshURL string
	client     *http.Client
	log        *logger.Logger

	mu       sync.Mutex
	creds    Credentials
	inflight chan struct{} // non-nil while a refresh is running
	subs     []chan Credentials
}

// NewStore creates a credential store. baseURL is the auth service root,
// e.g. "http://127.0.0.1:8000".
func NewStore(baseURL string, client *http.Client, log *logger.Logger) *Store {
	if client == nil {
		client = http.DefaultClient
	}
	return &Store{
		loginURL:   baseURL + "/auth/login/",
		refreshURL: baseURL + "/auth/refresh/",
		client:     client,
		log:        log,
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login exchanges user credentials for a token pair and installs it.
func (s *Store) Login(ctx context.Context, username, password string) error {
	body, err := json.Marshal(loginRequest{Username: username, Password: password})
	if err != nil {
		return &apierr.TransportError{Op: "login", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.loginURL, bytes.NewReader(body))
	if err != nil {
		return &apierr.TransportError{Op: "login", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return &apierr.TransportError{Op: "login", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &apierr.AuthError{Op: "login", Detail: "login rejected"}
	}

	var rr refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil || rr.Access == "" {
		return &apierr.TransportError{Op: "login", Err: err}
	}

	s.Set(Credentials{Access: rr.Access, Refresh: rr.Refresh})
	s.log.Info("logged in", zap.String("username", username))
	return nil
}

// Set installs a credential pair, e.g. after login.
func (s *Store) Set(creds Credentials) {
	s.mu.Lock()
	s.creds = creds
	subs := append([]chan Credentials(nil), s.subs...)
	s.mu.Unlock()
	s.notify(subs, creds)
}

// Clear drops the stored credentials, e.g. on logout or failed refresh.
func (s *Store) Clear() {
	s.Set(Credentials{})
}

// Present reports whether an access credential is currently loaded.
func (s *Store) Present() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds.Access != ""
}

// AccessToken returns the current access token, empty when absent.
func (s *Store) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds.Access
}

// Credentials returns a copy of the current pair.
func (s *Store) Credentials() Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds
}

// Subscribe returns a channel receiving each credential change. The channel
// is buffered; a slow subscriber misses intermediate updates, never blocks
// the store.
func (s *Store) Subscribe() <-chan Credentials {
	ch := make(chan Credentials, 1)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}

func (s *Store) notify(subs []chan Credentials, creds Credentials) {
	for _, ch := range subs {
		select {
		case ch <- creds:
		default:
			// drop the stale update, keep only the latest
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- creds:
			default:
			}
		}
	}
}

// Expired reports whether the access token's exp claim is at or before now.
// The token is parsed without signature verification; the client does not
// hold the signing key. A token without a readable exp claim is treated as
// unexpired and left to the server to reject.
func (s *Store) Expired(now time.Time) bool {
	token := s.AccessToken()
	if token == "" {
		return true
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !exp.After(now)
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

type refreshResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

// RefreshIfStale refreshes the access token if staleAccess is still the
// current one. Callers pass the token that just earned a 401; if another
// caller already replaced it the refresh is skipped. Concurrent callers
// share a single refresh flight.
func (s *Store) RefreshIfStale(ctx context.Context, staleAccess string) error {
	for {
		s.mu.Lock()
		if s.creds.Access != staleAccess && s.creds.Access != "" {
			s.mu.Unlock()
			return nil
		}
		if s.inflight != nil {
			done := s.inflight
			s.mu.Unlock()
			select {
			case <-done:
				continue // re-check the outcome
			case <-ctx.Done():
				return &apierr.TransportError{Op: "refresh token", Err: ctx.Err()}
			}
		}
		refresh := s.creds.Refresh
		if refresh == "" {
			s.mu.Unlock()
			return &apierr.AuthError{Op: "refresh token", Detail: "no refresh token"}
		}
		done := make(chan struct{})
		s.inflight = done
		s.mu.Unlock()

		err := s.doRefresh(ctx, refresh)

		s.mu.Lock()
		s.inflight = nil
		s.mu.Unlock()
		close(done)
		return err
	}
}

func (s *Store) doRefresh(ctx context.Context, refreshToken string) error {
	body, err := json.Marshal(refreshRequest{Refresh: refreshToken})
	if err != nil {
		return &apierr.TransportError{Op: "refresh token", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.refreshURL, bytes.NewReader(body))
	if err != nil {
		return &apierr.TransportError{Op: "refresh token", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		metrics.TokenRefreshesTotal.WithLabelValues("transport_error").Inc()
		return &apierr.TransportError{Op: "refresh token", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.TokenRefreshesTotal.WithLabelValues("rejected").Inc()
		s.log.Warn("token refresh rejected", zap.Int("status", resp.StatusCode))
		s.Clear()
		return &apierr.AuthError{Op: "refresh token", Detail: "refresh rejected"}
	}

	var rr refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil || rr.Access == "" {
		metrics.TokenRefreshesTotal.WithLabelValues("malformed").Inc()
		return &apierr.TransportError{Op: "refresh token", Err: err}
	}

	next := Credentials{Access: rr.Access, Refresh: refreshToken}
	if rr.Refresh != "" {
		next.Refresh = rr.Refresh
	}
	s.Set(next)

	metrics.TokenRefreshesTotal.WithLabelValues("ok").Inc()
	s.log.Debug("access token refreshed")
	return nil
}
