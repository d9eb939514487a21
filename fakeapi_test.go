package chatsync

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

const testToken = "test-token"

// fakeBackend is an in-memory chat API served over httptest.
type fakeBackend struct {
	t *testing.T

	mu           sync.Mutex
	nextID       int64
	convs        map[string]*fakeConv
	order        []string
	customerConv string
	failSend     bool
	failOpen     bool
	failList     bool
	listRequests int
	pollRequests int

	// When holdSend is set, a send stores its message, reports it on
	// sendStored and waits for holdSend before responding.
	sendStored chan Message
	holdSend   chan struct{}
}

type fakeConv struct {
	conv Conversation
	msgs []Message
}

func newFakeBackend(t *testing.T) (*fakeBackend, *httptest.Server) {
	t.Helper()
	b := &fakeBackend{t: t, convs: make(map[string]*fakeConv)}

	r := chi.NewRouter()
	r.Use(b.auth)
	r.Get("/chat/conversation", b.getOrCreate)
	r.Get("/chat/{id}/messages", b.newMessages)
	r.Post("/chat/send", b.send(RoleCustomer))
	r.Post("/admin/chat/send", b.send(RoleAdmin))
	r.Get("/admin/chat/conversations", b.list)
	r.Get("/admin/chat/{id}", b.history)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return b, srv
}

func newTestClient(srv *httptest.Server, role Role) *Client {
	return NewClient(testToken, WithBaseURL(srv.URL), WithRole(role), WithTimeout(2*time.Second))
}

// ── Seeding ──────────────────────────────────────────────

func (b *fakeBackend) addConversation(id, customerName string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addConversationLocked(id, customerName)
}

func (b *fakeBackend) addConversationLocked(id, customerName string) *fakeConv {
	c := &fakeConv{conv: Conversation{ID: id, CustomerName: customerName, UpdatedAt: time.Now().UTC()}}
	b.convs[id] = c
	b.order = append(b.order, id)
	return c
}

// inject stores a message as if another party had sent it.
func (b *fakeBackend) inject(convID string, sender Role, text string) Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.storeLocked(convID, sender, text)
}

func (b *fakeBackend) storeLocked(convID string, sender Role, text string) Message {
	c, ok := b.convs[convID]
	if !ok {
		b.t.Errorf("fake backend: unknown conversation %s", convID)
		return Message{}
	}
	b.nextID++
	m := Message{
		ID:             MessageID(strconv.FormatInt(b.nextID, 10)),
		ConversationID: convID,
		SenderType:     sender,
		Text:           text,
		CreatedAt:      time.Now().UTC(),
	}
	c.msgs = append(c.msgs, m)
	c.conv.LastMessage = text
	c.conv.UpdatedAt = m.CreatedAt
	if sender == RoleCustomer {
		c.conv.UnreadCount++
	}
	return m
}

func (b *fakeBackend) setUnread(convID string, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.convs[convID].conv.UnreadCount = n
}

func (b *fakeBackend) set(fn func(b *fakeBackend)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b)
}

func (b *fakeBackend) counts() (list, poll int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listRequests, b.pollRequests
}

// ── Handlers ─────────────────────────────────────────────

func (b *fakeBackend) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+testToken {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (b *fakeBackend) getOrCreate(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	if b.failOpen {
		b.mu.Unlock()
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "database unavailable"})
		return
	}
	if b.customerConv == "" {
		b.customerConv = "c1"
		if _, ok := b.convs["c1"]; !ok {
			b.addConversationLocked("c1", "Test Customer")
		}
	}
	c := b.convs[b.customerConv]
	snap := ConversationSnapshot{ConversationID: c.conv.ID, Messages: append([]Message{}, c.msgs...)}
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, snap)
}

func (b *fakeBackend) newMessages(w http.ResponseWriter, r *http.Request) {
	after, err := strconv.ParseInt(r.URL.Query().Get("after_message_id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "bad after_message_id"})
		return
	}
	b.mu.Lock()
	b.pollRequests++
	c, ok := b.convs[chi.URLParam(r, "id")]
	if !ok {
		b.mu.Unlock()
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "conversation not found"})
		return
	}
	out := []Message{}
	for _, m := range c.msgs {
		if n, _ := m.ID.Numeric(); n > after {
			out = append(out, m)
		}
	}
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, messagesResponse{Messages: out})
}

func (b *fakeBackend) send(role Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Message) == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid request"})
			return
		}
		b.mu.Lock()
		if b.failSend {
			b.mu.Unlock()
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"message": "try again later"})
			return
		}
		if _, ok := b.convs[req.ConversationID]; !ok {
			b.mu.Unlock()
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "conversation not found"})
			return
		}
		m := b.storeLocked(req.ConversationID, role, req.Message)
		hold, stored := b.holdSend, b.sendStored
		b.mu.Unlock()

		if hold != nil {
			stored <- m
			<-hold
		}
		writeJSON(w, http.StatusOK, m)
	}
}

func (b *fakeBackend) list(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.listRequests++
	if b.failList {
		b.mu.Unlock()
		writeJSON(w, http.StatusBadGateway, map[string]string{"message": "upstream error"})
		return
	}
	out := make([]Conversation, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.convs[id].conv)
	}
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, conversationsResponse{Conversations: out})
}

func (b *fakeBackend) history(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.pollRequests++
	c, ok := b.convs[chi.URLParam(r, "id")]
	if !ok {
		b.mu.Unlock()
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "conversation not found"})
		return
	}
	c.conv.UnreadCount = 0
	out := append([]Message{}, c.msgs...)
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, messagesResponse{Messages: out})
}

// ── Event capture ────────────────────────────────────────

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func captureEvents(sub interface {
	Subscribe(EventHandler) func()
}) *eventLog {
	l := &eventLog{}
	sub.Subscribe(func(ev Event) {
		l.mu.Lock()
		l.events = append(l.events, ev)
		l.mu.Unlock()
	})
	return l
}

func (l *eventLog) ofType(typ EventType) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, ev := range l.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
