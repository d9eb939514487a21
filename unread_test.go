package chatsync

import "testing"

func TestUnreadCounter(t *testing.T) {
	u := NewUnreadCounter(RoleCustomer)
	batch := []Message{
		msg("1", RoleAdmin, "Hi"),
		msg("2", RoleCustomer, "from my other tab"),
		msg("3", RoleAdmin, "Anything else?"),
	}

	t.Run("focused view ignores", func(t *testing.T) {
		if n, changed := u.Observe(batch, true); n != 0 || changed {
			t.Errorf("Observe(focused) = %d, %v", n, changed)
		}
	})

	t.Run("counts counterpart only", func(t *testing.T) {
		n, changed := u.Observe(batch, false)
		if n != 2 || !changed {
			t.Errorf("Observe = %d, %v; want 2, true", n, changed)
		}
		if n, changed := u.Observe([]Message{msg("4", RoleCustomer, "me")}, false); n != 2 || changed {
			t.Errorf("own message changed counter: %d, %v", n, changed)
		}
	})

	t.Run("reset", func(t *testing.T) {
		if !u.Reset() {
			t.Error("Reset of non-zero counter should report a change")
		}
		if u.Value() != 0 {
			t.Errorf("Value = %d", u.Value())
		}
		if u.Reset() {
			t.Error("Reset of zero counter should not report a change")
		}
	})

	t.Run("admin counts customer messages", func(t *testing.T) {
		a := NewUnreadCounter(RoleAdmin)
		if n, _ := a.Observe(batch, false); n != 1 {
			t.Errorf("admin unread = %d, want 1", n)
		}
	})
}

func TestEventBus(t *testing.T) {
	b := newEventBus()
	var got []EventType

	b.Subscribe(func(ev Event) { panic("handler bug") })
	unsub := b.Subscribe(func(ev Event) { got = append(got, ev.Type) })

	b.emit(Event{Type: EventStateChanged})
	if len(got) != 1 {
		t.Fatalf("handler after a panicking one got %d events", len(got))
	}

	unsub()
	unsub()
	b.emit(Event{Type: EventStateChanged})
	if len(got) != 1 {
		t.Error("unsubscribed handler still called")
	}

	var errText string
	b.Subscribe(func(ev Event) { errText = ev.Error })
	b.emit(Event{Type: EventPollError, Err: ErrStale})
	if errText != ErrStale.Error() {
		t.Errorf("Error = %q", errText)
	}
}
