package controller

import (
	"time"

	"github.com/healthbridge/chat-client/internal/model"
	"github.com/healthbridge/chat-client/internal/realtime"
)

// State is the single source of truth the presentation layer renders. It is
// a value: transitions copy it rather than mutate shared slices, so the
// reducer stays a pure function and snapshots are race-free.
type State struct {
	// Conversations, newest activity first.
	Conversations []model.Conversation

	// ActiveID is the selected conversation, empty when none.
	ActiveID string

	// Messages of the active conversation, in append order. The
	// controller never reorders by timestamp.
	Messages []model.Message

	// Loading is true while the initial list or a history fetch is in
	// flight.
	Loading bool

	// Connection lifecycle of the active conversation's channel.
	ConnState realtime.State
	Attempt   int
	RetryIn   time.Duration

	// Thinking is the pre-content phase after a user message; Streaming
	// means assistant content is arriving. Never both at once.
	Thinking           bool
	Streaming          bool
	StreamingMessageID string

	// LastError is the latest human-readable failure for the inline
	// banner, empty when none.
	LastError string

	// snapshotApplied records that the channel's own history snapshot
	// superseded the REST seed for the active conversation.
	snapshotApplied bool
}

// Connected reports whether the active channel is open.
func (s State) Connected() bool { return s.ConnState == realtime.StateOpen }

// Connecting reports whether the active channel is dialing or waiting to
// redial.
func (s State) Connecting() bool {
	return s.ConnState == realtime.StateConnecting || s.ConnState == realtime.StateClosedRetrying
}

// cloneMessages returns a copied message slice with room for growth.
func cloneMessages(msgs []model.Message, extra int) []model.Message {
	out := make([]model.Message, len(msgs), len(msgs)+extra)
	copy(out, msgs)
	return out
}

// cloneConversations returns a copied conversation slice.
func cloneConversations(convs []model.Conversation) []model.Conversation {
	out := make([]model.Conversation, len(convs))
	copy(out, convs)
	return out
}
