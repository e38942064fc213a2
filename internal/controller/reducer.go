package controller

import (
	"github.com/healthbridge/chat-client/internal/model"
	"github.com/healthbridge/chat-client/internal/realtime"
)

// reduce applies one realtime event to the state and returns the new state.
// It is pure: no I/O, no clocks, no mutation of the input. Events for a
// conversation other than the active one are discarded here, which makes
// the stale-channel rule part of the tested transition function.
func reduce(s State, ev realtime.Event) State {
	if ev.Conversation() != s.ActiveID {
		return s
	}

	switch ev := ev.(type) {
	case realtime.StateChanged:
		return reduceStateChanged(s, ev)

	case realtime.ConnectionAck:
		return s

	case realtime.HistorySnapshot:
		return seedHistory(s, ev.Messages, true)

	case realtime.ThinkingStarted:
		s.Thinking = true
		s.Streaming = false
		s.StreamingMessageID = ""
		return s

	case realtime.ThinkingEnded:
		s.Thinking = false
		return s

	case realtime.MessageComplete:
		return reduceMessageComplete(s, ev.Message)

	case realtime.MessageDelta:
		return reduceDelta(s, ev.MessageID, ev.Content)

	case realtime.StreamingComplete:
		s.Streaming = false
		s.StreamingMessageID = ""
		return s

	case realtime.ServerError:
		s.LastError = ev.Detail
		s.Thinking = false
		s.Streaming = false
		s.StreamingMessageID = ""
		return s
	}
	return s
}

func reduceStateChanged(s State, ev realtime.StateChanged) State {
	s.ConnState = ev.State
	s.Attempt = ev.Attempt
	s.RetryIn = ev.RetryIn
	if ev.Err != nil {
		s.LastError = ev.Err.Error()
	}
	if ev.State != realtime.StateOpen {
		// indicators cannot survive the connection that fed them
		s.Thinking = false
		s.Streaming = false
		s.StreamingMessageID = ""
	}
	return s
}

// reduceMessageComplete reconciles a confirmed message against the
// in-memory sequence. The rendered list must never hold the same logical
// message twice.
func reduceMessageComplete(s State, msg model.Message) State {
	// by durable id first
	if i := indexByID(s.Messages, msg.ID); i >= 0 {
		msgs := cloneMessages(s.Messages, 0)
		msgs[i] = msg
		s.Messages = msgs
		if msg.Role == model.RoleAssistant && msg.Content != "" && s.StreamingMessageID == msg.ID {
			s.Streaming = false
			s.StreamingMessageID = ""
		}
		return s
	}

	switch msg.Role {
	case model.RoleUser:
		// confirm the matching optimistic message in place
		if i := lastProvisionalWithContent(s.Messages, msg.Content); i >= 0 {
			msgs := cloneMessages(s.Messages, 0)
			msgs[i] = msg
			s.Messages = msgs
		} else {
			s.Messages = append(cloneMessages(s.Messages, 1), msg)
		}
		// the assistant's turn begins once the user message is confirmed
		s.Thinking = true
		s.Streaming = false
		s.StreamingMessageID = ""
		return s

	case model.RoleAssistant:
		if msg.Content == "" {
			// announcement of a streamed reply: create the placeholder
			// that the deltas will fill
			s.Messages = append(cloneMessages(s.Messages, 1), msg)
			s.Thinking = false
			s.Streaming = true
			s.StreamingMessageID = msg.ID
			return s
		}
		s.Messages = append(cloneMessages(s.Messages, 1), msg)
		s.Thinking = false
		s.Streaming = false
		s.StreamingMessageID = ""
		return s
	}
	return s
}

// reduceDelta overwrites the target message's content with the accumulated
// text so far. An unknown target falls back to the most recent assistant
// message, a tolerance for the legacy paired-row shape; with no assistant
// message at all the delta creates the placeholder itself.
func reduceDelta(s State, messageID, content string) State {
	s.Thinking = false
	s.Streaming = true
	s.StreamingMessageID = messageID

	if i := indexByID(s.Messages, messageID); i >= 0 {
		msgs := cloneMessages(s.Messages, 0)
		msgs[i].Content = content
		s.Messages = msgs
		return s
	}

	if i := lastAssistant(s.Messages); i >= 0 {
		msgs := cloneMessages(s.Messages, 0)
		msgs[i].Content = content
		s.Messages = msgs
		s.StreamingMessageID = msgs[i].ID
		return s
	}

	s.Messages = append(cloneMessages(s.Messages, 1), model.Message{
		ID:             messageID,
		ConversationID: s.ActiveID,
		Role:           model.RoleAssistant,
		Content:        content,
	})
	return s
}

// seedHistory reconciles a fetched or replayed history with whatever the
// state already holds. Reconciliation is a union by message identity:
// existing entries keep their position, unseen ones are appended in the
// seed's order. When the channel's own snapshot arrives it supersedes the
// REST seed as the base sequence, keeping only local messages the snapshot
// does not know yet (optimistic sends in flight).
func seedHistory(s State, seed []model.Message, snapshot bool) State {
	if snapshot {
		merged := cloneMessages(seed, len(s.Messages))
		for _, m := range s.Messages {
			if indexByID(merged, m.ID) < 0 && !containsConfirmed(merged, m) {
				merged = append(merged, m)
			}
		}
		s.Messages = merged
		s.snapshotApplied = true
		s.Loading = false
		return s
	}

	if s.snapshotApplied {
		// the live snapshot already won; only union-in unseen entries
		merged := cloneMessages(s.Messages, len(seed))
		for _, m := range seed {
			if indexByID(merged, m.ID) < 0 {
				merged = append(merged, m)
			}
		}
		s.Messages = merged
		s.Loading = false
		return s
	}

	merged := cloneMessages(s.Messages, len(seed))
	for _, m := range seed {
		if indexByID(merged, m.ID) < 0 {
			merged = append(merged, m)
		}
	}
	s.Messages = merged
	s.Loading = false
	return s
}

// appendOptimistic adds a provisional user message and enters the thinking
// phase.
func appendOptimistic(s State, msg model.Message) State {
	s.Messages = append(cloneMessages(s.Messages, 1), msg)
	s.Thinking = true
	s.Streaming = false
	s.StreamingMessageID = ""
	return s
}

// removeMessage drops a message by id, repairing a failed optimistic send.
func removeMessage(s State, id string) State {
	i := indexByID(s.Messages, id)
	if i < 0 {
		return s
	}
	msgs := cloneMessages(s.Messages, 0)
	s.Messages = append(msgs[:i], msgs[i+1:]...)
	s.Thinking = false
	return s
}

func indexByID(msgs []model.Message, id string) int {
	for i := range msgs {
		if msgs[i].ID == id {
			return i
		}
	}
	return -1
}

// lastProvisionalWithContent finds the most recent optimistic user message
// carrying the given content.
func lastProvisionalWithContent(msgs []model.Message, content string) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Provisional() && msgs[i].Role == model.RoleUser && msgs[i].Content == content {
			return i
		}
	}
	return -1
}

func lastAssistant(msgs []model.Message) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == model.RoleAssistant {
			return i
		}
	}
	return -1
}

// containsConfirmed reports whether the seed already holds a confirmed copy
// of a still-provisional local message, matched by role and content.
func containsConfirmed(msgs []model.Message, local model.Message) bool {
	if !local.Provisional() {
		return false
	}
	for i := range msgs {
		if msgs[i].Role == local.Role && msgs[i].Content == local.Content {
			return true
		}
	}
	return false
}
