package chatsync

import "sync"

// UnreadCounter counts counterpart messages that arrived while the chat view
// was not in focus.
type UnreadCounter struct {
	mu    sync.Mutex
	role  Role
	count int
}

// NewUnreadCounter creates a counter for the local role. Only messages sent by
// the counterpart role are counted.
func NewUnreadCounter(local Role) *UnreadCounter {
	return &UnreadCounter{role: local}
}

// Observe counts the counterpart messages of a newly merged batch unless the
// view is focused. It returns the new count and whether it changed.
func (u *UnreadCounter) Observe(merged []Message, focused bool) (int, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if focused {
		return u.count, false
	}
	n := 0
	for _, m := range merged {
		if m.SenderType == u.role.Counterpart() {
			n++
		}
	}
	u.count += n
	return u.count, n > 0
}

// Reset clears the counter and reports whether it was non-zero.
func (u *UnreadCounter) Reset() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	changed := u.count != 0
	u.count = 0
	return changed
}

func (u *UnreadCounter) Value() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.count
}
