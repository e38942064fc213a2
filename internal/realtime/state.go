package realtime

// State names a point in the channel's connection lifecycle.
type State string

const (
	// StateIdle is the state before Start.
	StateIdle State = "idle"
	// StateConnecting covers the dial and handshake.
	StateConnecting State = "connecting"
	// StateOpen means frames flow in both directions.
	StateOpen State = "open"
	// StateClosedNormal is terminal: the session ended cleanly, either by
	// a normal-closure code from the server or a deliberate client close.
	StateClosedNormal State = "closed-normal"
	// StateClosedRetrying means the connection was lost abnormally and a
	// reconnection attempt is scheduled.
	StateClosedRetrying State = "closed-retrying"
	// StateClosedFailed is terminal: retries are exhausted or the server
	// rejected the credential or the authorization.
	StateClosedFailed State = "closed-failed"
)

// Terminal reports whether the state ends the channel's lifetime.
func (s State) Terminal() bool {
	return s == StateClosedNormal || s == StateClosedFailed
}
