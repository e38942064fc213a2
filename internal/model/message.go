package model

import (
	"strings"
	"time"
)

// Role represents the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// provisionalPrefix marks message ids generated locally for optimistic
// display, before the server assigns a durable id.
const provisionalPrefix = "temp-"

// Message is a single-author conversation entry. User and assistant turns
// are free-standing messages; a shared ExchangeID pairs a user message with
// the assistant reply it provoked.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	ExchangeID     string    `json:"exchange_id,omitempty"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"timestamp"`
}

// Provisional reports whether the message carries a locally-generated id
// and has not yet been confirmed by the server.
func (m *Message) Provisional() bool {
	return strings.HasPrefix(m.ID, provisionalPrefix)
}

// ProvisionalID builds a local message id from a nanosecond timestamp.
func ProvisionalID(now time.Time) string {
	return provisionalPrefix + now.Format("20060102T150405.000000000")
}

// SendMessageRequest is the body for posting a user message.
type SendMessageRequest struct {
	Content string `json:"content"`
}
