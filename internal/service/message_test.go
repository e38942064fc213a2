package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthbridge/chat-client/internal/llm"
	"github.com/healthbridge/chat-client/internal/model"
	"github.com/healthbridge/chat-client/pkg/logger"
)

// fakeLLM streams a fixed token sequence.
type fakeLLM struct {
	tokens []string
	err    error
}

func (f *fakeLLM) Name() string { return "fake" }

func (f *fakeLLM) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	var content string
	for _, tok := range f.tokens {
		content += tok
	}
	return &llm.CompletionResponse{Content: content}, nil
}

func (f *fakeLLM) CompleteStream(ctx context.Context, req *llm.CompletionRequest, callback llm.StreamCallback) (*llm.CompletionResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	var content string
	for i, tok := range f.tokens {
		content += tok
		if err := callback(tok, i); err != nil {
			return nil, err
		}
	}
	return &llm.CompletionResponse{Content: content}, nil
}

func newTestServices(client llm.Client) (*ConversationService, *MessageService) {
	convSvc := NewConversationService(logger.Nop())
	return convSvc, NewMessageService(convSvc, client, logger.Nop())
}

// collectFrames drains the subscription until the wanted terminal frame.
func collectFrames(t *testing.T, frames <-chan *model.Frame, until model.FrameType) []*model.Frame {
	t.Helper()
	var out []*model.Frame
	deadline := time.After(2 * time.Second)
	for {
		select {
		case f := <-frames:
			out = append(out, f)
			if f.Type == until {
				return out
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s, got %d frames", until, len(out))
		}
	}
}

func TestHandleUserMessageStreamsReply(t *testing.T) {
	convSvc, msgSvc := newTestServices(&fakeLLM{tokens: []string{"Hello", " there"}})
	conv, err := convSvc.Create(context.Background(), "u1", "")
	require.NoError(t, err)

	frames, cancel := msgSvc.Subscribe(conv.ID)
	defer cancel()

	userMsg, err := msgSvc.HandleUserMessage(context.Background(), "u1", conv.ID, "hi")
	require.NoError(t, err)
	require.NotEmpty(t, userMsg.ID)

	got := collectFrames(t, frames, model.FrameStreamingComplete)

	types := make([]model.FrameType, len(got))
	for i, f := range got {
		types[i] = f.Type
	}
	assert.Equal(t, []model.FrameType{
		model.FrameMessage, // user confirmation
		model.FrameTypingStart,
		model.FrameMessage, // assistant placeholder
		model.FrameMessageUpdate,
		model.FrameMessageUpdate,
		model.FrameTypingEnd,
		model.FrameMessage, // assistant final
		model.FrameStreamingComplete,
	}, types)

	// updates carry the accumulated text, not fragments
	assert.Equal(t, "Hello", got[3].Content)
	assert.Equal(t, "Hello there", got[4].Content)

	// placeholder and final share the message id
	placeholder := wirePayload(t, got[2])
	final := wirePayload(t, got[6])
	assert.Equal(t, placeholder.ID, final.ID)
	assert.Empty(t, placeholder.Content)
	assert.Equal(t, "Hello there", final.Content)
	assert.Equal(t, got[3].MessageID, placeholder.ID)
}

func wirePayload(t *testing.T, f *model.Frame) model.WireMessage {
	t.Helper()
	var wm model.WireMessage
	require.NoError(t, json.Unmarshal(f.RawMessage, &wm))
	return wm
}

func TestStreamFailureEmitsErrorFrame(t *testing.T) {
	convSvc, msgSvc := newTestServices(&fakeLLM{err: errors.New("provider down")})
	conv, err := convSvc.Create(context.Background(), "u1", "")
	require.NoError(t, err)

	frames, cancel := msgSvc.Subscribe(conv.ID)
	defer cancel()

	_, err = msgSvc.HandleUserMessage(context.Background(), "u1", conv.ID, "hi")
	require.NoError(t, err)

	got := collectFrames(t, frames, model.FrameError)
	last := got[len(got)-1]
	assert.NotEmpty(t, last.Detail)
}

func TestHandleUserMessageEnforcesOwnership(t *testing.T) {
	convSvc, msgSvc := newTestServices(&fakeLLM{tokens: []string{"x"}})
	conv, err := convSvc.Create(context.Background(), "u1", "")
	require.NoError(t, err)

	_, err = msgSvc.HandleUserMessage(context.Background(), "intruder", conv.ID, "hi")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = msgSvc.History(context.Background(), "intruder", conv.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestHistoryAfterStream(t *testing.T) {
	convSvc, msgSvc := newTestServices(&fakeLLM{tokens: []string{"reply"}})
	conv, err := convSvc.Create(context.Background(), "u1", "")
	require.NoError(t, err)

	frames, cancel := msgSvc.Subscribe(conv.ID)
	defer cancel()

	_, err = msgSvc.HandleUserMessage(context.Background(), "u1", conv.ID, "question")
	require.NoError(t, err)
	collectFrames(t, frames, model.FrameStreamingComplete)

	msgs, err := msgSvc.History(context.Background(), "u1", conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "question", msgs[0].Content)
	assert.Equal(t, msgs[0].ID, msgs[0].ExchangeID, "stored user turn anchors its own exchange")
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "reply", msgs[1].Content)
	assert.Equal(t, msgs[0].ID, msgs[1].ExchangeID, "reply is paired with the user turn")
}

func TestConversationLifecycle(t *testing.T) {
	convSvc := NewConversationService(logger.Nop())
	ctx := context.Background()

	conv, err := convSvc.Create(ctx, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, model.DefaultTitle, conv.Title)

	_, err = convSvc.Rename(ctx, "u1", conv.ID, "Named now")
	require.NoError(t, err)

	convs, err := convSvc.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "Named now", convs[0].Title)

	require.NoError(t, convSvc.Delete(ctx, "u1", conv.ID))
	assert.ErrorIs(t, convSvc.Delete(ctx, "u1", conv.ID), ErrNotFound)
}
