package chatsync

import "errors"

var (
	// ErrEmptyMessage is returned by Send when the text is blank after trimming.
	ErrEmptyMessage = errors.New("chatsync: message is empty")
	// ErrNoConversation is returned when no conversation is open.
	ErrNoConversation = errors.New("chatsync: no active conversation")
	// ErrSessionClosed is returned by operations that need an open session.
	ErrSessionClosed = errors.New("chatsync: session is closed")
	// ErrWrongRole is returned when an operation does not apply to the session role.
	ErrWrongRole = errors.New("chatsync: operation not available for this role")
	// ErrPollInFlight is returned when a poll is requested while the previous one is unresolved.
	ErrPollInFlight = errors.New("chatsync: previous poll still in flight")
	// ErrStale is returned when a result arrives for a conversation that is no longer open.
	ErrStale = errors.New("chatsync: conversation changed while request was in flight")
)
