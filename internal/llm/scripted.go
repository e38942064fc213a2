package llm

import (
	"context"
	"strings"
	"time"
)

// scriptedReplies are rotated through by the offline responder.
var scriptedReplies = []string{
	"Thanks for reaching out. I can help you with general health questions, but for anything urgent please contact your care team directly.",
	"That's a good question. Based on what you've described, it would be worth discussing this with your provider at your next appointment.",
	"I understand. Keeping track of your symptoms in a journal can help your care team spot patterns. Is there anything else on your mind?",
	"Staying hydrated and getting consistent sleep makes a real difference. Let me know if you'd like tips on either.",
}

// ScriptedClient is an offline responder that streams canned replies. It
// stands in for a real model when no API key is configured, so the
// development server works without network access.
type ScriptedClient struct {
	tokenDelay time.Duration
	next       int
}

// NewScriptedClient creates a scripted responder.
func NewScriptedClient() *ScriptedClient {
	return &ScriptedClient{tokenDelay: 40 * time.Millisecond}
}

// Name returns the provider name.
func (c *ScriptedClient) Name() string {
	return "scripted"
}

func (c *ScriptedClient) pick() string {
	reply := scriptedReplies[c.next%len(scriptedReplies)]
	c.next++
	return reply
}

// Complete returns the next canned reply.
func (c *ScriptedClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	content := c.pick()
	return &CompletionResponse{
		Content:    content,
		Model:      "scripted",
		TokensOut:  len(strings.Fields(content)),
		StopReason: "stop",
	}, nil
}

// CompleteStream streams the next canned reply word by word, pacing
// tokens so the client's streaming path behaves as it would against a
// real model.
func (c *ScriptedClient) CompleteStream(ctx context.Context, req *CompletionRequest, callback StreamCallback) (*CompletionResponse, error) {
	start := time.Now()
	content := c.pick()
	words := strings.SplitAfter(content, " ")

	for i, word := range words {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.tokenDelay):
		}
		if err := callback(word, i); err != nil {
			return nil, err
		}
	}

	return &CompletionResponse{
		Content:    content,
		Model:      "scripted",
		TokensOut:  len(words),
		StopReason: "stop",
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}
