package chatsync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents an error returned by the chat API.
type APIError struct {
	Status  int    `json:"-"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("chat api: status %d", e.Status)
	}
	return fmt.Sprintf("chat api: status %d: %s", e.Status, e.Message)
}

// Role is the side of a support conversation.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// Counterpart returns the role on the other side of the conversation.
func (r Role) Counterpart() Role {
	if r == RoleAdmin {
		return RoleCustomer
	}
	return RoleAdmin
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleCustomer || r == RoleAdmin
}

// ParseRole parses a role name, case-insensitively.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q (valid: customer, admin)", s)
	}
	return r, nil
}

// ============================================================================
// Messages
// ============================================================================

const tempIDPrefix = "temp-"

// MessageID identifies a message. Server ids arrive as JSON numbers or strings
// and are kept as their decimal text; optimistic ids carry the "temp-" prefix.
type MessageID string

// Numeric returns the id as an integer when it is one.
func (id MessageID) Numeric() (int64, bool) {
	n, err := strconv.ParseInt(string(id), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// IsTemp reports whether id was generated locally for an unconfirmed send.
func (id MessageID) IsTemp() bool {
	return strings.HasPrefix(string(id), tempIDPrefix)
}

func (id *MessageID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = MessageID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("message id: %w", err)
	}
	*id = MessageID(n.String())
	return nil
}

func (id MessageID) MarshalJSON() ([]byte, error) {
	if n, ok := id.Numeric(); ok {
		return []byte(strconv.FormatInt(n, 10)), nil
	}
	return json.Marshal(string(id))
}

// Message is a single chat message.
type Message struct {
	ID             MessageID `json:"message_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	SenderType     Role      `json:"sender_type"`
	Text           string    `json:"message"`
	CreatedAt      time.Time `json:"created_at"`

	// IsTemp marks an optimistic entry that has not been confirmed by the server.
	IsTemp bool `json:"-"`
}

// Conversation is a support thread summary as listed on the admin dashboard.
type Conversation struct {
	ID           string    `json:"conversation_id"`
	CustomerID   string    `json:"customer_id,omitempty"`
	CustomerName string    `json:"customer_name"`
	LastMessage  string    `json:"last_message,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
	UnreadCount  int       `json:"unread_count"`
}

// ConversationSnapshot is the result of get-or-create: the thread id and its history.
type ConversationSnapshot struct {
	ConversationID string    `json:"conversation_id"`
	Messages       []Message `json:"messages"`
}

type messagesResponse struct {
	Messages []Message `json:"messages"`
}

type conversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
}

type sendRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

// ============================================================================
// Cursor
// ============================================================================

// Cursor is the high-water mark of numeric message ids merged so far.
// It never moves backwards.
type Cursor int64

// Advance returns the cursor moved forward to the largest numeric id in msgs.
// Non-numeric ids (temp entries, or a backend that stopped issuing integers)
// leave the cursor untouched.
func (c Cursor) Advance(msgs []Message) Cursor {
	next := c
	for _, m := range msgs {
		if n, ok := m.ID.Numeric(); ok && Cursor(n) > next {
			next = Cursor(n)
		}
	}
	return next
}
