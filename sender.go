package chatsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// newTempID returns a local id for an optimistic message. UUIDv7 values are
// unique even for sends issued within the same millisecond.
func newTempID() MessageID {
	return MessageID(tempIDPrefix + uuid.Must(uuid.NewV7()).String())
}

// Send shows text in the conversation immediately as a pending message, then
// posts it. On success the pending entry is replaced in place by the server's
// copy and the cursor moves past it; on failure the entry is removed and the
// error is kept in Err. The text is not kept for a retry.
//
// Send blocks for the network round-trip; callers that must not block run it
// on their own goroutine. The pending message is announced with
// EventMessagePending before the request starts.
func (s *Session) Send(ctx context.Context, text string) (*Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if s.convID == "" {
		s.mu.Unlock()
		return nil, ErrNoConversation
	}
	convID, store := s.convID, s.store
	pending := Message{
		ID:             s.newTempID(),
		ConversationID: convID,
		SenderType:     s.role,
		Text:           text,
		CreatedAt:      time.Now().UTC(),
		IsTemp:         true,
	}
	store.Append(pending)
	s.mu.Unlock()

	s.emit(Event{Type: EventMessagePending, ConversationID: convID, TempID: pending.ID, Messages: []Message{pending}})

	sent, err := s.api.SendMessage(ctx, convID, text)
	if err != nil {
		store.Discard(pending.ID)
		s.mu.Lock()
		if store == s.store {
			s.lastErr = err
		}
		s.mu.Unlock()

		SendsTotal.WithLabelValues(string(s.role), "error").Inc()
		s.log.Error("send failed", zap.String("conversation_id", convID), zap.Error(err))
		s.emit(Event{Type: EventMessageFailed, ConversationID: convID, TempID: pending.ID, Err: err})
		return nil, fmt.Errorf("send message: %w", err)
	}

	confirmed := *sent
	if confirmed.ConversationID == "" {
		confirmed.ConversationID = convID
	}
	if confirmed.SenderType == "" {
		confirmed.SenderType = s.role
	}
	if confirmed.Text == "" {
		confirmed.Text = text
	}
	if confirmed.CreatedAt.IsZero() {
		confirmed.CreatedAt = pending.CreatedAt
	}
	confirmed.IsTemp = false

	store.Reconcile(pending.ID, confirmed)
	s.mu.Lock()
	if store == s.store {
		s.cursor = s.cursor.Advance([]Message{confirmed})
		s.lastErr = nil
	}
	s.mu.Unlock()

	SendsTotal.WithLabelValues(string(s.role), "ok").Inc()
	s.log.Debug("message confirmed",
		zap.String("conversation_id", convID),
		zap.String("message_id", string(confirmed.ID)))
	s.emit(Event{Type: EventMessageConfirmed, ConversationID: convID, TempID: pending.ID, Messages: []Message{confirmed}})

	if s.role == RoleAdmin && s.inbox != nil {
		if err := s.inbox.Refresh(ctx); err != nil && !errors.Is(err, ErrPollInFlight) {
			s.log.Warn("inbox refresh after send failed", zap.Error(err))
		}
	}
	return &confirmed, nil
}
