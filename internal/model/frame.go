package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// FrameType tags an inbound realtime frame.
type FrameType string

const (
	FrameConnectionEstablished FrameType = "connection_established"
	FramePreviousMessages      FrameType = "previous_messages"
	FrameTypingStart           FrameType = "typing_start"
	FrameTypingEnd             FrameType = "typing_end"
	FrameMessage               FrameType = "message"
	FrameMessageUpdate         FrameType = "message_update"
	FrameStreamingComplete     FrameType = "streaming_complete"
	FramePong                  FrameType = "pong"
	FrameError                 FrameType = "error"
)

// Frame is the JSON envelope for every inbound realtime frame. Fields are
// populated according to Type; unused fields stay zero.
type Frame struct {
	Type FrameType `json:"type"`

	// connection_established
	ChatID string `json:"chat_id,omitempty"`

	// previous_messages
	Messages []WireMessage `json:"messages,omitempty"`

	// message frames nest the payload under "message"; legacy error frames
	// reuse the same key for a plain string. Decoded per type below.
	RawMessage json.RawMessage `json:"message,omitempty"`
	Message    *WireMessage    `json:"-"`

	// message_update carries the full accumulated content so far, not a
	// fragment. The client overwrites, never appends.
	MessageID string `json:"message_id,omitempty"`
	Content   string `json:"content,omitempty"`

	// error
	Detail string `json:"detail,omitempty"`
}

// OutboundFrame is the single frame shape the client writes.
type OutboundFrame struct {
	Content string `json:"content"`
}

// PingFrame is the keepalive probe the client may write.
type PingFrame struct {
	Type string `json:"type"`
}

// WireMessage is a message as it appears inside realtime frames and legacy
// REST rows. The legacy shape packs a user turn and the paired assistant
// reply into one row via Response; ToMessages expands that into canonical
// single-author messages.
type WireMessage struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chatId,omitempty"`
	Chat      string    `json:"chat,omitempty"`
	Role      Role      `json:"role,omitempty"`
	Content   string    `json:"content"`
	Response  string    `json:"response,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// wireTimeLayouts cover the timestamp renderings the backend has emitted
// over time: RFC 3339, naive ISO-8601 without an offset, and the
// space-separated form with or without an offset.
var wireTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

func parseWireTime(s string) (time.Time, error) {
	var err error
	for _, layout := range wireTimeLayouts {
		var ts time.Time
		if ts, err = time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, err
}

// UnmarshalJSON decodes a wire row, tolerating every timestamp format the
// backend emits. Strict time.Time decoding would reject naive ISO-8601 and
// take the whole frame down with it.
func (w *WireMessage) UnmarshalJSON(data []byte) error {
	type plain WireMessage
	aux := struct {
		*plain
		Timestamp string `json:"timestamp"`
	}{plain: (*plain)(w)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Timestamp == "" {
		return nil
	}
	ts, err := parseWireTime(aux.Timestamp)
	if err != nil {
		return err
	}
	w.Timestamp = ts
	return nil
}

// ConversationID returns whichever conversation id field the sender used.
func (w *WireMessage) ConversationID() string {
	if w.ChatID != "" {
		return w.ChatID
	}
	return w.Chat
}

// identity returns the row's id, synthesizing a stable one for legacy rows
// that carry none. The synthesized id is a deterministic function of the
// row's content, so the same row yields the same id on every decode and
// identity-union reconciliation still dedupes.
func (w *WireMessage) identity() string {
	if w.ID != "" {
		return w.ID
	}
	seed := string(w.Role) + "|" + w.Content + "|" + w.Response + "|" + w.Timestamp.UTC().Format(time.RFC3339Nano)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed)).String()
}

// ToMessages converts a wire row into canonical messages. A row with a role
// maps to exactly one message. A legacy row without a role holds a user turn
// and, when Response is non-empty, the paired assistant reply; both expanded
// messages share the row id as exchange id.
func (w *WireMessage) ToMessages(conversationID string) []Message {
	if cid := w.ConversationID(); cid != "" {
		conversationID = cid
	}
	id := w.identity()

	if w.Role != "" {
		return []Message{{
			ID:             id,
			ConversationID: conversationID,
			Role:           w.Role,
			Content:        w.Content,
			CreatedAt:      w.Timestamp,
		}}
	}

	out := []Message{{
		ID:             id,
		ConversationID: conversationID,
		ExchangeID:     id,
		Role:           RoleUser,
		Content:        w.Content,
		CreatedAt:      w.Timestamp,
	}}
	if w.Response != "" {
		out = append(out, Message{
			ID:             id + ":response",
			ConversationID: conversationID,
			ExchangeID:     id,
			Role:           RoleAssistant,
			Content:        w.Response,
			CreatedAt:      w.Timestamp,
		})
	}
	return out
}

// NewMessageFrame wraps a wire message in a message frame for sending.
func NewMessageFrame(wm WireMessage) (*Frame, error) {
	raw, err := json.Marshal(wm)
	if err != nil {
		return nil, err
	}
	return &Frame{Type: FrameMessage, RawMessage: raw}, nil
}

// DecodeFrame parses one inbound frame. Unknown types decode successfully
// and are left for the caller to ignore; malformed JSON is an error.
func DecodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}

	switch f.Type {
	case FrameMessage:
		var wm WireMessage
		if err := json.Unmarshal(f.RawMessage, &wm); err != nil {
			return nil, err
		}
		f.Message = &wm
	case FrameError:
		// the original backend shipped the detail as {"message": "..."}
		if f.Detail == "" && len(f.RawMessage) > 0 {
			var s string
			if err := json.Unmarshal(f.RawMessage, &s); err == nil {
				f.Detail = s
			}
		}
	}
	return &f, nil
}
