// Package controller merges REST-fetched history with realtime events into
// the single state the presentation layer renders.
//
// All state transitions happen on one event-loop goroutine: UI commands,
// REST continuations, and channel events are posted into the same queue,
// so shared state needs no locking beyond the snapshot copy handed to
// readers.
package controller

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/healthbridge/chat-client/internal/apierr"
	"github.com/healthbridge/chat-client/internal/model"
	"github.com/healthbridge/chat-client/internal/realtime"
	"github.com/healthbridge/chat-client/pkg/logger"
	"github.com/healthbridge/chat-client/pkg/metrics"
)

// maxDerivedTitleLen caps titles derived from the first user message.
const maxDerivedTitleLen = 40

// HistoryRepository is the REST surface the controller consumes.
type HistoryRepository interface {
	ListConversations(ctx context.Context) ([]model.Conversation, error)
	CreateConversation(ctx context.Context) (*model.Conversation, error)
	FetchMessages(ctx context.Context, conversationID string) ([]model.Message, error)
	SendMessage(ctx context.Context, conversationID, content string) error
	RenameConversation(ctx context.Context, conversationID, title string) error
	DeleteConversation(ctx context.Context, conversationID string) error
}

// Channel is the realtime surface the controller consumes. One instance
// per conversation; the controller never touches the connection itself.
type Channel interface {
	Start(ctx context.Context)
	Events() <-chan realtime.Event
	State() realtime.State
	Close()
}

// ChannelFactory builds a channel for a conversation.
type ChannelFactory func(conversationID string) Channel

// Controller is the state owner.
type Controller struct {
	repo       HistoryRepository
	newChannel ChannelFactory
	log        *logger.Logger
	clock      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	cmds    chan func()
	updates chan struct{}

	// loop-owned; read elsewhere only via Snapshot
	channel    Channel
	chanEvents <-chan realtime.Event

	mu    sync.RWMutex
	state State
}

// Option customizes a Controller.
type Option func(*Controller)

// WithClock substitutes the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.clock = now }
}

// New creates a controller. Call Start before issuing commands.
func New(repo HistoryRepository, factory ChannelFactory, log *logger.Logger, opts ...Option) *Controller {
	c := &Controller{
		repo:       repo,
		newChannel: factory,
		log:        log,
		clock:      time.Now,
		cmds:       make(chan func(), 64),
		updates:    make(chan struct{}, 1),
		state:      State{ConnState: realtime.StateIdle},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start launches the event loop and the initial conversation list fetch.
func (c *Controller) Start(ctx context.Context) {
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.loop()
	c.RefreshConversations()
}

// Stop tears down the channel and ends the event loop.
func (c *Controller) Stop() {
	done := make(chan struct{})
	c.post(func() {
		if c.channel != nil {
			c.channel.Close()
			c.channel = nil
			c.chanEvents = nil
		}
		close(done)
	})
	select {
	case <-done:
	case <-c.ctx.Done():
	}
	c.cancel()
	c.wg.Wait()
}

// Snapshot returns a copy of the current render state.
func (c *Controller) Snapshot() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Updates signals after each state change. The channel has capacity one;
// coalesced notifications are intentional.
func (c *Controller) Updates() <-chan struct{} { return c.updates }

func (c *Controller) loop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case cmd := <-c.cmds:
			cmd()
		case ev, ok := <-c.chanEvents:
			if !ok {
				c.chanEvents = nil
				continue
			}
			if mc, isComplete := ev.(realtime.MessageComplete); isComplete {
				metrics.MessagesTotal.WithLabelValues(string(mc.Message.Role)).Inc()
			}
			c.apply(func(s State) State { return reduce(s, ev) })
		}
	}
}

// post queues work onto the event loop.
func (c *Controller) post(cmd func()) {
	select {
	case c.cmds <- cmd:
	case <-c.ctx.Done():
	}
}

// apply runs a transition on the loop goroutine and publishes the result.
func (c *Controller) apply(f func(State) State) {
	c.mu.Lock()
	c.state = f(c.state)
	c.mu.Unlock()

	select {
	case c.updates <- struct{}{}:
	default:
	}
}

// RefreshConversations reloads the conversation list. The first
// conversation becomes active when none is selected yet.
func (c *Controller) RefreshConversations() {
	c.post(func() {
		c.apply(func(s State) State {
			s.Loading = true
			return s
		})
		go func() {
			convs, err := c.repo.ListConversations(c.ctx)
			c.post(func() { c.onListed(convs, err) })
		}()
	})
}

func (c *Controller) onListed(convs []model.Conversation, err error) {
	if err != nil {
		c.log.Warn("list conversations failed", zap.Error(err))
		c.apply(func(s State) State {
			s.Loading = false
			s.LastError = humanError(err)
			return s
		})
		return
	}

	c.apply(func(s State) State {
		s.Loading = false
		s.Conversations = convs
		s.LastError = ""
		return s
	})

	if c.Snapshot().ActiveID == "" && len(convs) > 0 {
		c.selectLocked(convs[0])
	}
}

// SelectConversation makes the conversation active: the previous channel
// is torn down, history is fetched, and a fresh channel connects.
func (c *Controller) SelectConversation(conv model.Conversation) {
	c.post(func() { c.selectLocked(conv) })
}

// selectLocked runs on the loop goroutine.
func (c *Controller) selectLocked(conv model.Conversation) {
	if conv.ID == c.Snapshot().ActiveID {
		return
	}

	if c.channel != nil {
		c.channel.Close()
	}

	c.apply(func(s State) State {
		s.ActiveID = conv.ID
		s.Messages = nil
		s.Loading = true
		s.Thinking = false
		s.Streaming = false
		s.StreamingMessageID = ""
		s.LastError = ""
		s.snapshotApplied = false
		s.ConnState = realtime.StateConnecting
		s.Attempt = 0
		s.RetryIn = 0
		return s
	})

	go func(id string) {
		msgs, err := c.repo.FetchMessages(c.ctx, id)
		c.post(func() { c.onFetched(id, msgs, err) })
	}(conv.ID)

	ch := c.newChannel(conv.ID)
	c.channel = ch
	c.chanEvents = ch.Events()
	ch.Start(c.ctx)
}

// onFetched applies a REST history seed. The active conversation is
// re-checked at resolution time; a fetch that lost the race to a
// conversation switch is discarded.
func (c *Controller) onFetched(conversationID string, msgs []model.Message, err error) {
	if c.Snapshot().ActiveID != conversationID {
		c.log.Debug("discarding stale history fetch", zap.String("conversation_id", conversationID))
		return
	}

	if err != nil {
		var nf *apierr.NotFoundError
		if errors.As(err, &nf) {
			// the conversation vanished server-side; drop it locally
			c.removeConversation(conversationID, "This conversation no longer exists.")
			return
		}
		c.log.Warn("history fetch failed", zap.Error(err))
		c.apply(func(s State) State {
			s.Loading = false
			s.LastError = humanError(err)
			return s
		})
		return
	}

	c.apply(func(s State) State { return seedHistory(s, msgs, false) })
}

// SendMessage appends an optimistic user message and posts it to the
// server. Empty input is rejected locally; so is sending while the channel
// is not open.
func (c *Controller) SendMessage(text string) {
	c.post(func() {
		text := strings.TrimSpace(text)
		snap := c.Snapshot()

		if text == "" || snap.ActiveID == "" {
			return
		}
		if c.channel == nil || c.channel.State() != realtime.StateOpen {
			c.apply(func(s State) State {
				s.LastError = "Not connected to server"
				return s
			})
			return
		}

		now := c.clock()
		optimistic := model.Message{
			ID:             model.ProvisionalID(now),
			ConversationID: snap.ActiveID,
			Role:           model.RoleUser,
			Content:        text,
			CreatedAt:      now,
		}

		c.apply(func(s State) State {
			s = appendOptimistic(s, optimistic)
			s.LastError = ""
			return s
		})
		c.deriveTitle(snap.ActiveID, text)

		go func(conversationID, provisionalID, content string) {
			err := c.repo.SendMessage(c.ctx, conversationID, content)
			c.post(func() { c.onSent(conversationID, provisionalID, err) })
		}(snap.ActiveID, optimistic.ID, text)
	})
}

func (c *Controller) onSent(conversationID, provisionalID string, err error) {
	if err == nil {
		// confirmation and the assistant reply arrive over the channel
		return
	}
	c.log.Warn("send failed", zap.Error(err))
	if c.Snapshot().ActiveID != conversationID {
		return
	}
	c.apply(func(s State) State {
		s = removeMessage(s, provisionalID)
		s.LastError = humanError(err)
		return s
	})
}

// deriveTitle sets the conversation title from its first user message,
// once, when the placeholder title is still in place.
func (c *Controller) deriveTitle(conversationID, firstMessage string) {
	snap := c.Snapshot()
	for _, m := range snap.Messages {
		if m.Role == model.RoleUser && m.ID != "" && !m.Provisional() {
			return // not the first message
		}
	}
	var conv *model.Conversation
	for i := range snap.Conversations {
		if snap.Conversations[i].ID == conversationID {
			conv = &snap.Conversations[i]
			break
		}
	}
	if conv == nil || !conv.Untitled() {
		return
	}

	title := firstMessage
	if runes := []rune(title); len(runes) > maxDerivedTitleLen {
		title = string(runes[:maxDerivedTitleLen])
	}
	c.applyRename(conversationID, title)

	go func() {
		if err := c.repo.RenameConversation(c.ctx, conversationID, title); err != nil {
			// cosmetic; the local title stands either way
			c.log.Debug("title sync failed", zap.Error(err))
		}
	}()
}

// RenameConversation sets a conversation's title locally and server-side.
func (c *Controller) RenameConversation(conversationID, title string) {
	c.post(func() {
		title := strings.TrimSpace(title)
		if title == "" {
			return
		}
		c.applyRename(conversationID, title)
		go func() {
			err := c.repo.RenameConversation(c.ctx, conversationID, title)
			if err != nil {
				c.log.Warn("rename failed", zap.Error(err))
				c.post(func() {
					c.apply(func(s State) State {
						s.LastError = humanError(err)
						return s
					})
				})
			}
		}()
	})
}

func (c *Controller) applyRename(conversationID, title string) {
	c.apply(func(s State) State {
		convs := cloneConversations(s.Conversations)
		for i := range convs {
			if convs[i].ID == conversationID {
				convs[i].Title = title
			}
		}
		s.Conversations = convs
		return s
	})
}

// CreateConversation creates a conversation and selects it.
func (c *Controller) CreateConversation() {
	c.post(func() {
		c.apply(func(s State) State {
			s.Loading = true
			return s
		})
		go func() {
			conv, err := c.repo.CreateConversation(c.ctx)
			c.post(func() { c.onCreated(conv, err) })
		}()
	})
}

func (c *Controller) onCreated(conv *model.Conversation, err error) {
	if err != nil {
		c.log.Warn("create conversation failed", zap.Error(err))
		c.apply(func(s State) State {
			s.Loading = false
			s.LastError = humanError(err)
			return s
		})
		return
	}
	c.apply(func(s State) State {
		s.Loading = false
		s.Conversations = append([]model.Conversation{*conv}, cloneConversations(s.Conversations)...)
		return s
	})
	c.selectLocked(*conv)
}

// DeleteConversation removes the conversation optimistically and issues
// the REST delete. A NotFoundError from the server counts as success; any
// other failure surfaces an error without restoring the local entry.
func (c *Controller) DeleteConversation(conversationID string) {
	c.post(func() {
		c.removeConversation(conversationID, "")
		go func() {
			err := c.repo.DeleteConversation(c.ctx, conversationID)
			if err == nil {
				return
			}
			var nf *apierr.NotFoundError
			if errors.As(err, &nf) {
				return // already gone; same outcome
			}
			c.log.Warn("delete failed", zap.Error(err))
			c.post(func() {
				c.apply(func(s State) State {
					s.LastError = humanError(err)
					return s
				})
			})
		}()
	})
}

// removeConversation drops a conversation from local state, tearing down
// its channel when it was active. Runs on the loop goroutine.
func (c *Controller) removeConversation(conversationID, banner string) {
	wasActive := c.Snapshot().ActiveID == conversationID
	if wasActive && c.channel != nil {
		c.channel.Close()
		c.channel = nil
		c.chanEvents = nil
	}

	c.apply(func(s State) State {
		convs := make([]model.Conversation, 0, len(s.Conversations))
		for _, conv := range s.Conversations {
			if conv.ID != conversationID {
				convs = append(convs, conv)
			}
		}
		s.Conversations = convs
		if s.ActiveID == conversationID {
			s.ActiveID = ""
			s.Messages = nil
			s.Loading = false
			s.Thinking = false
			s.Streaming = false
			s.StreamingMessageID = ""
			s.ConnState = realtime.StateIdle
			s.snapshotApplied = false
		}
		if banner != "" {
			s.LastError = banner
		}
		return s
	})
}

func humanError(err error) string {
	var auth *apierr.AuthError
	if errors.As(err, &auth) {
		return "Session expired. Please log in again."
	}
	var transport *apierr.TransportError
	if errors.As(err, &transport) {
		return "Network error. Please try again."
	}
	return err.Error()
}
