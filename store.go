package chatsync

import "sync"

// MessageStore is the ordered in-memory message list of one conversation.
// It holds at most one entry per message id. It is safe for concurrent use.
type MessageStore struct {
	mu       sync.RWMutex
	messages []Message
	ids      map[MessageID]struct{}
}

// NewMessageStore creates an empty store.
func NewMessageStore() *MessageStore {
	return &MessageStore{ids: make(map[MessageID]struct{})}
}

// Append adds m to the end of the list. An entry whose id is already present is ignored.
func (s *MessageStore) Append(m Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[m.ID]; ok {
		return false
	}
	s.messages = append(s.messages, m)
	s.ids[m.ID] = struct{}{}
	return true
}

// MergeNew appends the messages of batch whose id is not yet present, in the
// order received, and returns them. Merging the same batch twice is a no-op
// the second time.
func (s *MessageStore) MergeNew(batch []Message) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	var added []Message
	for _, m := range batch {
		if _, ok := s.ids[m.ID]; ok {
			continue
		}
		m.IsTemp = false
		s.messages = append(s.messages, m)
		s.ids[m.ID] = struct{}{}
		added = append(added, m)
	}
	return added
}

// Reconcile replaces the entry tempID with the confirmed server message,
// keeping its position. If a poll already merged the server message, the temp
// entry is dropped instead. Returns false if tempID is not in the store.
func (s *MessageStore) Reconcile(tempID MessageID, confirmed Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(tempID)
	if i < 0 {
		return false
	}
	confirmed.IsTemp = false
	delete(s.ids, tempID)
	if _, dup := s.ids[confirmed.ID]; dup {
		s.removeAt(i)
		return true
	}
	s.messages[i] = confirmed
	s.ids[confirmed.ID] = struct{}{}
	return true
}

// Discard removes the entry tempID. Returns false if it is not in the store.
func (s *MessageStore) Discard(tempID MessageID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(tempID)
	if i < 0 {
		return false
	}
	delete(s.ids, tempID)
	s.removeAt(i)
	return true
}

// Has reports whether an entry with id is present.
func (s *MessageStore) Has(id MessageID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

// Messages returns a copy of the list.
func (s *MessageStore) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Message(nil), s.messages...)
}

func (s *MessageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// PendingCount returns the number of unconfirmed optimistic entries.
func (s *MessageStore) PendingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, m := range s.messages {
		if m.IsTemp {
			n++
		}
	}
	return n
}

func (s *MessageStore) indexOf(id MessageID) int {
	if _, ok := s.ids[id]; !ok {
		return -1
	}
	for i := range s.messages {
		if s.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *MessageStore) removeAt(i int) {
	copy(s.messages[i:], s.messages[i+1:])
	s.messages[len(s.messages)-1] = Message{}
	s.messages = s.messages[:len(s.messages)-1]
}
