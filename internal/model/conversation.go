// Package model defines data structures shared by the chat client.
package model

import (
	"time"
)

// DefaultTitle is the placeholder title assigned to a conversation at
// creation, before the first user message provides a better one.
const DefaultTitle = "New Conversation"

// Conversation represents a conversation thread.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`

	// Messages is populated by history fetches. The controller keeps its
	// own reconciled copy; this field is transport state only.
	Messages []Message `json:"messages,omitempty"`
}

// Untitled reports whether the conversation still carries the placeholder
// title (or none at all) and is eligible for title derivation from its
// first user message.
func (c *Conversation) Untitled() bool {
	return c.Title == "" || c.Title == DefaultTitle
}

// CreateConversationRequest is the body for creating a conversation.
type CreateConversationRequest struct {
	Title string `json:"title,omitempty"`
}

// RenameConversationRequest is the body for renaming a conversation.
type RenameConversationRequest struct {
	Title string `json:"title"`
}
