package realtime

import (
	"time"

	"github.com/healthbridge/chat-client/internal/model"
)

// Event is the tagged union delivered on the channel's event stream. Every
// event names its conversation so a consumer can discard events from a
// channel it has already abandoned.
type Event interface {
	Conversation() string
}

// EventScope names the conversation an event belongs to. Embedded by every
// event type.
type EventScope struct {
	ConversationID string
}

func (e EventScope) Conversation() string { return e.ConversationID }

// StateChanged reports a connection lifecycle transition.
type StateChanged struct {
	EventScope
	State   State
	Attempt int
	RetryIn time.Duration
	Err     error
}

// ConnectionAck reports the server accepted the connection.
type ConnectionAck struct {
	EventScope
}

// HistorySnapshot carries the server's own replay of persisted messages,
// sent immediately after the connection is accepted.
type HistorySnapshot struct {
	EventScope
	Messages []model.Message
}

// ThinkingStarted reports the assistant began processing, before any
// content exists.
type ThinkingStarted struct {
	EventScope
}

// ThinkingEnded reports the pre-content phase finished.
type ThinkingEnded struct {
	EventScope
}

// MessageComplete carries one confirmed message of either role. An
// assistant message with empty content announces a streamed reply whose
// body follows as MessageDelta events.
type MessageComplete struct {
	EventScope
	Message model.Message
}

// MessageDelta carries the full accumulated content of a streaming
// assistant message. Content replaces, never appends.
type MessageDelta struct {
	EventScope
	MessageID string
	Content   string
}

// StreamingComplete reports the streamed reply is final.
type StreamingComplete struct {
	EventScope
}

// ServerError carries an application-level error from the server. The
// connection stays open.
type ServerError struct {
	EventScope
	Detail string
}
