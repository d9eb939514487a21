package chatsync

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HookSignatureHeader carries the hex HMAC-SHA256 of the request body.
const HookSignatureHeader = "X-Chat-Signature"

// ============================================================================
// Hook Types
// ============================================================================

// HookPayload is a new-message notification pushed by the chat backend. It is
// only a hint to poll now; the message itself is still fetched by polling.
type HookPayload struct {
	Event          string    `json:"event"` // "message.created"
	ConversationID string    `json:"conversation_id"`
	MessageID      MessageID `json:"message_id"`
	SenderType     Role      `json:"sender_type"`
	Timestamp      int64     `json:"timestamp"`
}

// HookHandlerFunc is called for each verified notification.
type HookHandlerFunc func(ctx context.Context, payload *HookPayload) error

// ============================================================================
// Standalone Functions
// ============================================================================

// VerifyHookSignature checks an HMAC-SHA256 signature, with or without the
// "sha256=" prefix, in constant time.
func VerifyHookSignature(body []byte, signature, secret string) bool {
	if len(body) == 0 || signature == "" || secret == "" {
		return false
	}
	sig := strings.TrimPrefix(signature, "sha256=")
	if sig == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if len(sig) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) == 1
}

// SignHookBody returns the signature header value for body.
func SignHookBody(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// ParseHookPayload decodes and validates a notification body.
func ParseHookPayload(body []byte) (*HookPayload, error) {
	var payload HookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("invalid JSON in hook body: %w", err)
	}
	if payload.Event != "message.created" {
		return nil, fmt.Errorf("unsupported hook event: %q", payload.Event)
	}
	if payload.ConversationID == "" {
		return nil, fmt.Errorf("missing conversation_id in hook payload")
	}
	return &payload, nil
}

// ============================================================================
// MessageHook
// ============================================================================

// MessageHook verifies, parses and dispatches new-message notifications.
type MessageHook struct {
	secret    string
	onMessage HookHandlerFunc
}

// NewMessageHook creates a hook. The secret is required.
func NewMessageHook(secret string, onMessage HookHandlerFunc) (*MessageHook, error) {
	if secret == "" {
		return nil, fmt.Errorf("hook secret is required")
	}
	return &MessageHook{secret: secret, onMessage: onMessage}, nil
}

// Handle processes one notification and returns the status code and body to write.
func (h *MessageHook) Handle(ctx context.Context, body []byte, signature string) (int, any) {
	if !VerifyHookSignature(body, signature, h.secret) {
		return http.StatusUnauthorized, map[string]string{"error": "invalid signature"}
	}
	payload, err := ParseHookPayload(body)
	if err != nil {
		return http.StatusBadRequest, map[string]string{"error": err.Error()}
	}
	if err := h.onMessage(ctx, payload); err != nil {
		return http.StatusInternalServerError, map[string]string{"error": err.Error()}
	}
	return http.StatusOK, map[string]bool{"ok": true}
}

// HTTPHandler returns an http.Handler that accepts POSTed notifications.
func (h *MessageHook) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
			return
		}
		defer r.Body.Close()
		body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
			return
		}

		status, data := h.Handle(r.Context(), body, r.Header.Get(HookSignatureHeader))
		writeJSON(w, status, data)
	})
}
