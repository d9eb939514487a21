package chatsync

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// InboxOption configures an Inbox.
type InboxOption func(*Inbox)

func WithInboxInterval(d time.Duration) InboxOption {
	return func(i *Inbox) { i.interval = d }
}

func WithInboxLogger(log *zap.Logger) InboxOption {
	return func(i *Inbox) { i.log = log }
}

// Inbox keeps the admin conversation list fresh by polling it on a fixed
// interval. Unread counts come from the server, except for the conversation
// open in the linked Session, which counts its own.
type Inbox struct {
	*eventBus

	api      API
	interval time.Duration
	log      *zap.Logger
	poller   *Poller[[]Conversation]

	mu            sync.RWMutex
	conversations []Conversation
	active        string
	lastErr       error
}

// NewInbox creates a stopped inbox.
func NewInbox(api API, opts ...InboxOption) *Inbox {
	i := &Inbox{
		eventBus: newEventBus(),
		api:      api,
		interval: DefaultInboxInterval,
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.log == nil {
		i.log = zap.NewNop()
	}
	i.poller = NewPoller("conversations", i.interval, i.api.GetConversations, i.apply, i.log)
	i.poller.OnError(i.failed)
	return i
}

// Start loads the list once and then keeps refreshing it until Stop.
// The first load's error is returned, but polling starts regardless.
func (i *Inbox) Start(ctx context.Context) error {
	err := i.poller.PollNow(ctx)
	i.poller.Start(ctx)
	return err
}

func (i *Inbox) Stop() {
	i.poller.Stop()
}

// Refresh reloads the list now.
func (i *Inbox) Refresh(ctx context.Context) error {
	return i.poller.PollNow(ctx)
}

// Conversations returns the latest list, most recently updated first.
func (i *Inbox) Conversations() []Conversation {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return append([]Conversation(nil), i.conversations...)
}

// Search returns conversations whose customer name contains term, ignoring case.
func (i *Inbox) Search(term string) []Conversation {
	term = strings.ToLower(strings.TrimSpace(term))
	all := i.Conversations()
	if term == "" {
		return all
	}
	var out []Conversation
	for _, c := range all {
		if strings.Contains(strings.ToLower(c.CustomerName), term) {
			out = append(out, c)
		}
	}
	return out
}

// SetActive marks the conversation open in the admin session.
func (i *Inbox) SetActive(conversationID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.active = conversationID
}

// Unread returns the server-reported unread count of a conversation, or 0 for
// the active one.
func (i *Inbox) Unread(conversationID string) int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if conversationID == i.active {
		return 0
	}
	for _, c := range i.conversations {
		if c.ID == conversationID {
			return c.UnreadCount
		}
	}
	return 0
}

// TotalUnread sums Unread over all listed conversations.
func (i *Inbox) TotalUnread() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	total := 0
	for _, c := range i.conversations {
		if c.ID != i.active {
			total += c.UnreadCount
		}
	}
	return total
}

func (i *Inbox) Err() error {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.lastErr
}

func (i *Inbox) apply(list []Conversation) {
	sorted := append([]Conversation(nil), list...)
	sort.SliceStable(sorted, func(a, b int) bool { return sorted[a].UpdatedAt.After(sorted[b].UpdatedAt) })

	i.mu.Lock()
	i.conversations = sorted
	i.lastErr = nil
	i.mu.Unlock()

	i.emit(Event{Type: EventConversationsUpdate, Conversations: sorted, Unread: i.TotalUnread()})
}

func (i *Inbox) failed(err error) {
	i.mu.Lock()
	i.lastErr = err
	i.mu.Unlock()
	i.emit(Event{Type: EventPollError, Err: err})
}
