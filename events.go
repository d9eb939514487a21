package chatsync

import "sync"

// ============================================================================
// Event Types
// ============================================================================

// EventType names a session or inbox event.
type EventType string

const (
	EventMessagePending      EventType = "message.pending"
	EventMessageConfirmed    EventType = "message.confirmed"
	EventMessageFailed       EventType = "message.failed"
	EventMessagesMerged      EventType = "messages.merged"
	EventUnreadChanged       EventType = "unread.changed"
	EventStateChanged        EventType = "state.changed"
	EventPollError           EventType = "poll.error"
	EventConversationsUpdate EventType = "conversations.updated"
)

// Event is delivered to subscribers. Only the fields relevant to Type are set.
type Event struct {
	Type           EventType      `json:"type"`
	ConversationID string         `json:"conversationId,omitempty"`
	State          State          `json:"state,omitempty"`
	Messages       []Message      `json:"messages,omitempty"`
	TempID         MessageID      `json:"tempId,omitempty"`
	Unread         int            `json:"unread"`
	Conversations  []Conversation `json:"conversations,omitempty"`
	Err            error          `json:"-"`
	Error          string         `json:"error,omitempty"`
}

// EventHandler receives events. Handlers run on the goroutine that produced
// the event and must not block.
type EventHandler func(Event)

// ============================================================================
// Event Bus
// ============================================================================

type eventBus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]EventHandler
}

func newEventBus() *eventBus {
	return &eventBus{handlers: make(map[int]EventHandler)}
}

// Subscribe registers h and returns a function that removes it.
func (b *eventBus) Subscribe(h EventHandler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = h
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers, id)
			b.mu.Unlock()
		})
	}
}

func (b *eventBus) emit(ev Event) {
	if ev.Err != nil && ev.Error == "" {
		ev.Error = ev.Err.Error()
	}
	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() { recover() }() // swallow panics in user callbacks
			h(ev)
		}()
	}
}

func (b *eventBus) removeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[int]EventHandler)
}
