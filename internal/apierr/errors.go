// Package apierr defines the error taxonomy for chat client operations.
//
// REST and session failures are converted into these types at the call
// site so callers can branch with errors.As instead of matching strings.
package apierr

import (
	"fmt"
)

// TransportError indicates a network-level failure: DNS, connection reset,
// timeout. The operation was not necessarily received by the server.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport failure: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AuthError indicates a missing, expired, or rejected credential after any
// silent refresh attempt has been exhausted.
type AuthError struct {
	Op     string
	Detail string
}

func (e *AuthError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: authentication failed", e.Op)
	}
	return fmt.Sprintf("%s: authentication failed: %s", e.Op, e.Detail)
}

// NotFoundError indicates the resource no longer exists server-side.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// ValidationError indicates input rejected locally before reaching the
// network: empty content, no active conversation.
type ValidationError struct {
	Detail string
}

func (e *ValidationError) Error() string { return e.Detail }

// NotConnectedError indicates a realtime send while the channel is not open.
type NotConnectedError struct {
	State string
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("realtime channel not open (state %s)", e.State)
}

// ChannelError describes a realtime connection failure: abnormal closure,
// handshake rejection, exhausted retries. Terminal errors end the channel's
// lifetime; non-terminal ones drive the reconnection policy.
type ChannelError struct {
	Code     int
	Detail   string
	Terminal bool
}

func (e *ChannelError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("realtime channel error (close code %d): %s", e.Code, e.Detail)
	}
	return fmt.Sprintf("realtime channel error: %s", e.Detail)
}
