package controller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthbridge/chat-client/internal/model"
	"github.com/healthbridge/chat-client/internal/realtime"
)

func scope(conversationID string) realtime.EventScope {
	return realtime.EventScope{ConversationID: conversationID}
}

func userMsg(id, content string) model.Message {
	return model.Message{ID: id, ConversationID: "c1", Role: model.RoleUser, Content: content}
}

func assistantMsg(id, content string) model.Message {
	return model.Message{ID: id, ConversationID: "c1", Role: model.RoleAssistant, Content: content}
}

func activeState(msgs ...model.Message) State {
	return State{ActiveID: "c1", Messages: msgs, ConnState: realtime.StateOpen}
}

func TestReduceDiscardsEventsForOtherConversations(t *testing.T) {
	s := activeState(userMsg("m1", "hello"))

	out := reduce(s, realtime.MessageComplete{
		EventScope: scope("c2"),
		Message:    assistantMsg("m9", "from another chat"),
	})

	assert.Equal(t, s.Messages, out.Messages)
	assert.False(t, out.Thinking)
}

func TestOptimisticMessageConfirmedInPlace(t *testing.T) {
	provisional := model.Message{
		ID:             model.ProvisionalID(time.Now()),
		ConversationID: "c1",
		Role:           model.RoleUser,
		Content:        "hello",
	}
	s := appendOptimistic(activeState(), provisional)
	require.True(t, s.Thinking)

	out := reduce(s, realtime.MessageComplete{
		EventScope: scope("c1"),
		Message:    userMsg("m42", "hello"),
	})

	require.Len(t, out.Messages, 1)
	assert.Equal(t, "m42", out.Messages[0].ID)
	assert.Equal(t, "hello", out.Messages[0].Content)
	assert.True(t, out.Thinking)
}

func TestConfirmationWithoutOptimisticAppends(t *testing.T) {
	s := activeState(userMsg("m1", "earlier"))

	out := reduce(s, realtime.MessageComplete{
		EventScope: scope("c1"),
		Message:    userMsg("m42", "hello"),
	})

	require.Len(t, out.Messages, 2)
	assert.Equal(t, "m42", out.Messages[1].ID)
}

func TestDuplicateConfirmationReplacesById(t *testing.T) {
	s := activeState(userMsg("m42", "hello"))

	out := reduce(s, realtime.MessageComplete{
		EventScope: scope("c1"),
		Message:    userMsg("m42", "hello"),
	})

	require.Len(t, out.Messages, 1)
}

func TestAssistantAnnouncementStartsStreaming(t *testing.T) {
	s := activeState(userMsg("m42", "hello"))
	s.Thinking = true

	out := reduce(s, realtime.MessageComplete{
		EventScope: scope("c1"),
		Message:    assistantMsg("a1", ""),
	})

	require.Len(t, out.Messages, 2)
	assert.False(t, out.Thinking)
	assert.True(t, out.Streaming)
	assert.Equal(t, "a1", out.StreamingMessageID)
}

func TestDeltasOverwriteNotAppend(t *testing.T) {
	s := activeState(userMsg("m42", "hello"), assistantMsg("a1", ""))
	s.Streaming = true
	s.StreamingMessageID = "a1"

	for _, chunk := range []string{"H", "He", "Hel"} {
		s = reduce(s, realtime.MessageDelta{
			EventScope: scope("c1"),
			MessageID:  "a1",
			Content:    chunk,
		})
	}

	require.Len(t, s.Messages, 2)
	assert.Equal(t, "Hel", s.Messages[1].Content)
	assert.True(t, s.Streaming)

	s = reduce(s, realtime.StreamingComplete{EventScope: scope("c1")})
	assert.False(t, s.Streaming)
	assert.Empty(t, s.StreamingMessageID)
	assert.Equal(t, "Hel", s.Messages[1].Content)
}

func TestDeltaForUnknownIDFallsBackToLastAssistant(t *testing.T) {
	s := activeState(assistantMsg("a1", "old"), userMsg("m2", "more"))

	out := reduce(s, realtime.MessageDelta{
		EventScope: scope("c1"),
		MessageID:  "unknown",
		Content:    "fresh",
	})

	assert.Equal(t, "fresh", out.Messages[0].Content)
	assert.Equal(t, "a1", out.StreamingMessageID)
}

func TestDeltaWithNoAssistantCreatesPlaceholder(t *testing.T) {
	s := activeState(userMsg("m1", "hi"))

	out := reduce(s, realtime.MessageDelta{
		EventScope: scope("c1"),
		MessageID:  "a7",
		Content:    "partial",
	})

	require.Len(t, out.Messages, 2)
	assert.Equal(t, "a7", out.Messages[1].ID)
	assert.Equal(t, model.RoleAssistant, out.Messages[1].Role)
	assert.Equal(t, "partial", out.Messages[1].Content)
}

func TestThinkingAndStreamingAreMutuallyExclusive(t *testing.T) {
	s := activeState()

	s = reduce(s, realtime.ThinkingStarted{EventScope: scope("c1")})
	assert.True(t, s.Thinking)
	assert.False(t, s.Streaming)

	s = reduce(s, realtime.MessageDelta{
		EventScope: scope("c1"),
		MessageID:  "a1",
		Content:    "x",
	})
	assert.False(t, s.Thinking)
	assert.True(t, s.Streaming)
}

func TestFinalMessageClearsStreamingCursor(t *testing.T) {
	s := activeState(assistantMsg("a1", "partial"))
	s.Streaming = true
	s.StreamingMessageID = "a1"

	out := reduce(s, realtime.MessageComplete{
		EventScope: scope("c1"),
		Message:    assistantMsg("a1", "partial text, complete"),
	})

	require.Len(t, out.Messages, 1)
	assert.Equal(t, "partial text, complete", out.Messages[0].Content)
	assert.False(t, out.Streaming)
}

func TestDisconnectClearsIndicators(t *testing.T) {
	s := activeState()
	s.Thinking = true

	out := reduce(s, realtime.StateChanged{
		EventScope: scope("c1"),
		State:      realtime.StateClosedRetrying,
		Attempt:    1,
		RetryIn:    time.Second,
	})

	assert.False(t, out.Thinking)
	assert.False(t, out.Streaming)
	assert.Equal(t, realtime.StateClosedRetrying, out.ConnState)
	assert.Equal(t, 1, out.Attempt)
}

func TestServerErrorKeepsConnectionState(t *testing.T) {
	s := activeState()
	s.Thinking = true

	out := reduce(s, realtime.ServerError{
		EventScope: scope("c1"),
		Detail:     "model unavailable",
	})

	assert.Equal(t, "model unavailable", out.LastError)
	assert.False(t, out.Thinking)
	assert.Equal(t, realtime.StateOpen, out.ConnState)
}

func TestSnapshotSupersedesRestSeed(t *testing.T) {
	// REST seed arrived first
	s := seedHistory(activeState(), []model.Message{
		userMsg("m1", "hello"),
		assistantMsg("a1", "hi there"),
	}, false)
	require.Len(t, s.Messages, 2)

	// an optimistic send is in flight
	provisional := model.Message{
		ID:      model.ProvisionalID(time.Now()),
		Role:    model.RoleUser,
		Content: "pending question",
	}
	s = appendOptimistic(s, provisional)

	// the channel snapshot knows m1/a1 plus one message REST missed
	out := reduce(s, realtime.HistorySnapshot{
		EventScope: scope("c1"),
		Messages: []model.Message{
			userMsg("m1", "hello"),
			assistantMsg("a1", "hi there"),
			userMsg("m2", "missed by rest"),
		},
	})

	require.Len(t, out.Messages, 4)
	assert.Equal(t, "m2", out.Messages[2].ID)
	assert.Equal(t, provisional.ID, out.Messages[3].ID)
}

func TestSnapshotDropsProvisionalWhenConfirmedCopyPresent(t *testing.T) {
	provisional := model.Message{
		ID:      model.ProvisionalID(time.Now()),
		Role:    model.RoleUser,
		Content: "hello",
	}
	s := appendOptimistic(activeState(), provisional)

	out := reduce(s, realtime.HistorySnapshot{
		EventScope: scope("c1"),
		Messages:   []model.Message{userMsg("m42", "hello")},
	})

	require.Len(t, out.Messages, 1)
	assert.Equal(t, "m42", out.Messages[0].ID)
}

func TestLateRestSeedOnlyUnionsAfterSnapshot(t *testing.T) {
	s := reduce(activeState(), realtime.HistorySnapshot{
		EventScope: scope("c1"),
		Messages:   []model.Message{userMsg("m1", "hello")},
	})
	require.True(t, s.snapshotApplied)

	out := seedHistory(s, []model.Message{
		userMsg("m1", "hello"),
		userMsg("m0", "stale extra"),
	}, false)

	require.Len(t, out.Messages, 2)
	assert.Equal(t, "m1", out.Messages[0].ID)
	assert.Equal(t, "m0", out.Messages[1].ID)
}

func TestRemoveMessageRepairsFailedSend(t *testing.T) {
	provisional := model.Message{
		ID:      model.ProvisionalID(time.Now()),
		Role:    model.RoleUser,
		Content: "doomed",
	}
	s := appendOptimistic(activeState(userMsg("m1", "kept")), provisional)

	out := removeMessage(s, provisional.ID)

	require.Len(t, out.Messages, 1)
	assert.Equal(t, "m1", out.Messages[0].ID)
	assert.False(t, out.Thinking)
}
