package chatsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the visibility state of a chat view.
type State string

const (
	StateClosed    State = "closed"
	StateActive    State = "active"
	StateMinimized State = "minimized"
)

// SessionOption configures a Session.
type SessionOption func(*Session)

func WithLogger(log *zap.Logger) SessionOption {
	return func(s *Session) { s.log = log }
}

func WithPollInterval(d time.Duration) SessionOption {
	return func(s *Session) { s.interval = d }
}

// WithPollWhileMinimized controls whether message polling continues while the
// view is minimized. Defaults to true, which is what lets the unread counter
// see new messages. With false the poller stops on Minimize and resumes on
// Maximize.
func WithPollWhileMinimized(on bool) SessionOption {
	return func(s *Session) { s.pollMinimized = on }
}

// WithInbox links an admin session to the conversation list: the selected
// conversation's unread count is tracked locally and the list is refreshed
// after each successful send.
func WithInbox(inbox *Inbox) SessionOption {
	return func(s *Session) { s.inbox = inbox }
}

// ============================================================================
// Session
// ============================================================================

// Session synchronizes one conversation at a time for a customer widget or an
// admin dashboard. All methods are safe for concurrent use.
type Session struct {
	*eventBus

	api           API
	role          Role
	log           *zap.Logger
	interval      time.Duration
	pollMinimized bool
	inbox         *Inbox
	newTempID     func() MessageID

	mu      sync.Mutex
	state   State
	convID  string
	store   *MessageStore
	cursor  Cursor
	gen     uint64
	poller  *Poller[[]Message]
	unread  *UnreadCounter
	lastErr error
}

// NewSession creates a closed session for role.
func NewSession(api API, role Role, opts ...SessionOption) *Session {
	s := &Session{
		eventBus:      newEventBus(),
		api:           api,
		role:          role,
		interval:      DefaultPollInterval,
		pollMinimized: true,
		newTempID:     newTempID,
		state:         StateClosed,
		store:         NewMessageStore(),
		unread:        NewUnreadCounter(role),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	s.log = s.log.With(zap.String("role", string(role)))
	return s
}

// ── Accessors ────────────────────────────────────────────

func (s *Session) Role() Role { return s.role }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.convID
}

// Store returns the message store of the current conversation. A conversation
// switch replaces it; the old store is never written again.
func (s *Session) Store() *MessageStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store
}

// Messages returns a copy of the current conversation's messages.
func (s *Session) Messages() []Message {
	return s.Store().Messages()
}

// Cursor returns the high-water mark used for the next delta fetch.
func (s *Session) Cursor() Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Unread returns the number of counterpart messages received while not active.
func (s *Session) Unread() int {
	return s.unread.Value()
}

// Err returns the last load or send error, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Polling reports whether the message poller is running.
func (s *Session) Polling() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.poller != nil && s.poller.Running()
}

// ── Lifecycle ────────────────────────────────────────────

// Open shows the chat view. For a customer it gets or creates the support
// conversation on first use; an admin session resumes the conversation last
// chosen with Select. On failure the session stays closed and the error is
// kept in Err; call Open again to retry. A Close or Minimize that lands while
// the conversation is still loading wins: Open returns ErrStale and the
// session stays closed.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	state, convID, gen := s.state, s.convID, s.gen
	s.mu.Unlock()

	if state == StateMinimized {
		s.Maximize()
		return nil
	}
	if state == StateActive {
		return nil
	}

	var (
		snap *ConversationSnapshot
		err  error
	)
	if convID == "" {
		if s.role != RoleCustomer {
			return ErrNoConversation
		}
		snap, err = s.api.GetOrCreateConversation(ctx)
	}

	s.mu.Lock()
	if gen != s.gen {
		now := s.state
		s.mu.Unlock()
		if now != StateClosed {
			// A concurrent Open got there first.
			return nil
		}
		s.log.Debug("open superseded while loading")
		return ErrStale
	}
	if err != nil {
		s.lastErr = err
		s.mu.Unlock()
		s.log.Error("open conversation failed", zap.Error(err))
		return fmt.Errorf("open conversation: %w", err)
	}
	if snap != nil && s.convID == "" {
		s.install(snap.ConversationID, snap.Messages)
	}
	id, cleared := s.activateLocked()
	s.mu.Unlock()

	if snap != nil {
		s.log.Info("conversation opened",
			zap.String("conversation_id", snap.ConversationID),
			zap.Int("messages", len(snap.Messages)))
	}
	s.announceActive(id, cleared)
	return nil
}

// Select switches an admin session to conversationID. The previous
// conversation's poller is stopped and its store discarded before the new
// history is loaded.
func (s *Session) Select(ctx context.Context, conversationID string) error {
	if s.role != RoleAdmin {
		return ErrWrongRole
	}
	if conversationID == "" {
		return ErrNoConversation
	}

	s.mu.Lock()
	s.teardown()
	gen := s.gen
	prev := s.state
	s.state = StateClosed
	s.mu.Unlock()
	if prev != StateClosed {
		s.emit(Event{Type: EventStateChanged, State: StateClosed})
	}

	msgs, err := s.api.GetConversationMessages(ctx, conversationID)

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return ErrStale
	}
	if err != nil {
		s.lastErr = err
		s.mu.Unlock()
		s.log.Error("load conversation failed", zap.String("conversation_id", conversationID), zap.Error(err))
		return fmt.Errorf("load conversation %s: %w", conversationID, err)
	}
	s.install(conversationID, msgs)
	id, cleared := s.activateLocked()
	s.mu.Unlock()

	s.announceActive(id, cleared)
	return nil
}

// Minimize moves an active view to the background. Unread counting starts.
// On a closed session it only abandons a load still in flight.
func (s *Session) Minimize() {
	s.mu.Lock()
	if s.state != StateActive {
		s.gen++
		s.mu.Unlock()
		return
	}
	s.state = StateMinimized
	if !s.pollMinimized {
		s.stopPolling()
	}
	convID := s.convID
	s.mu.Unlock()

	s.emit(Event{Type: EventStateChanged, ConversationID: convID, State: StateMinimized})
}

// Maximize brings a minimized view back to the foreground and clears the unread count.
func (s *Session) Maximize() {
	s.mu.Lock()
	if s.state != StateMinimized {
		s.mu.Unlock()
		return
	}
	id, cleared := s.activateLocked()
	s.mu.Unlock()
	s.announceActive(id, cleared)
}

// Close hides the view and stops polling. The conversation and its messages
// are kept so a later Open resumes from the same cursor. A load still in
// flight is abandoned.
func (s *Session) Close() {
	s.mu.Lock()
	s.gen++
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.stopPolling()
	s.markInbox("")
	convID := s.convID
	s.mu.Unlock()

	s.log.Debug("session closed", zap.String("conversation_id", convID))
	s.emit(Event{Type: EventStateChanged, ConversationID: convID, State: StateClosed})
}

// Destroy closes the session and removes all subscribers.
func (s *Session) Destroy() {
	s.Close()
	s.removeAll()
}

// Refresh polls once right away. It is the manual retry for a failed tick.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	p := s.poller
	s.mu.Unlock()
	if p == nil {
		return ErrSessionClosed
	}
	return p.PollNow(ctx)
}

// ── Internals (s.mu held unless noted) ───────────────────

// activateLocked makes the current conversation active and starts polling.
func (s *Session) activateLocked() (convID string, cleared bool) {
	s.state = StateActive
	s.lastErr = nil
	cleared = s.unread.Reset()
	s.startPolling()
	s.markInbox(s.convID)
	return s.convID, cleared
}

// announceActive emits the events for activateLocked. Called without s.mu held.
func (s *Session) announceActive(convID string, cleared bool) {
	s.emit(Event{Type: EventStateChanged, ConversationID: convID, State: StateActive})
	if cleared {
		UnreadMessages.WithLabelValues(string(s.role)).Set(0)
		s.emit(Event{Type: EventUnreadChanged, ConversationID: convID, Unread: 0})
	}
}

func (s *Session) markInbox(conversationID string) {
	if s.inbox != nil {
		s.inbox.SetActive(conversationID)
	}
}

// teardown stops the poller and drops the conversation and its store.
func (s *Session) teardown() {
	s.stopPolling()
	s.convID = ""
	s.store = NewMessageStore()
	s.cursor = 0
	s.unread.Reset()
	s.lastErr = nil
	s.markInbox("")
}

// install makes conversationID current with history as its initial content.
func (s *Session) install(conversationID string, history []Message) {
	s.stopPolling()
	s.convID = conversationID
	s.store = NewMessageStore()
	added := s.store.MergeNew(history)
	s.cursor = Cursor(0).Advance(added)
	MessagesMergedTotal.WithLabelValues(string(s.role)).Add(float64(len(added)))
}

func (s *Session) startPolling() {
	if s.poller != nil || s.convID == "" {
		return
	}
	s.gen++
	gen, convID := s.gen, s.convID

	fetch := func(ctx context.Context) ([]Message, error) {
		if s.role == RoleAdmin {
			return s.api.GetConversationMessages(ctx, convID)
		}
		return s.api.GetNewMessages(ctx, convID, int64(s.Cursor()))
	}
	deliver := func(batch []Message) { s.applyPoll(gen, batch) }

	s.poller = NewPoller("messages", s.interval, fetch, deliver, s.log)
	s.poller.OnError(func(err error) {
		s.emit(Event{Type: EventPollError, ConversationID: convID, Err: err})
	})
	s.poller.Start(context.Background())
}

// stopPolling cancels the poller. Bumping the generation makes any result
// still in flight stale, so nothing reaches the store after this returns.
func (s *Session) stopPolling() {
	s.gen++
	if s.poller != nil {
		s.poller.Stop()
		s.poller = nil
	}
}

// applyPoll merges a poll result. Called without s.mu held.
func (s *Session) applyPoll(gen uint64, batch []Message) {
	s.mu.Lock()
	if gen != s.gen || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	added := s.store.MergeNew(batch)
	if len(added) == 0 {
		s.mu.Unlock()
		return
	}
	before := s.cursor
	s.cursor = s.cursor.Advance(added)
	advanced := s.cursor != before
	count, unreadChanged := s.unread.Observe(added, s.state == StateActive)
	convID := s.convID
	s.mu.Unlock()

	if !advanced {
		// Ids the cursor cannot order; the next delta fetch will repeat them.
		s.log.Warn("merged messages did not advance cursor",
			zap.String("conversation_id", convID),
			zap.String("first_id", string(added[0].ID)))
	}
	MessagesMergedTotal.WithLabelValues(string(s.role)).Add(float64(len(added)))
	s.log.Debug("messages merged", zap.String("conversation_id", convID), zap.Int("count", len(added)))
	s.emit(Event{Type: EventMessagesMerged, ConversationID: convID, Messages: added})

	if unreadChanged {
		UnreadMessages.WithLabelValues(string(s.role)).Set(float64(count))
		s.emit(Event{Type: EventUnreadChanged, ConversationID: convID, Unread: count})
	}
}
