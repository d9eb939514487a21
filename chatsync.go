// Package chatsync keeps a support chat conversation in sync with the storefront
// chat API by polling.
//
// A Session owns one conversation at a time: it loads the history, polls for
// messages newer than the highest id it has seen, shows outgoing messages
// optimistically, and counts unread counterpart messages while minimized.
//
// Example:
//
//	client := chatsync.NewClient(token, chatsync.WithBaseURL("https://shop.example.com/api"))
//
//	sess := chatsync.NewSession(client, chatsync.RoleCustomer)
//	sess.Subscribe(func(ev chatsync.Event) { ... })
//	if err := sess.Open(ctx); err != nil { ... }
//	defer sess.Close()
//
//	sess.Send(ctx, "Hi, where is my order?")
package chatsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultTimeout = 10 * time.Second
)

// API is the subset of the chat REST API a Session consumes.
type API interface {
	GetOrCreateConversation(ctx context.Context) (*ConversationSnapshot, error)
	GetNewMessages(ctx context.Context, conversationID string, afterMessageID int64) ([]Message, error)
	SendMessage(ctx context.Context, conversationID, text string) (*Message, error)
	GetConversations(ctx context.Context) ([]Conversation, error)
	GetConversationMessages(ctx context.Context, conversationID string) ([]Message, error)
}

// ============================================================================
// Client
// ============================================================================

// Client talks to the storefront chat API over HTTP.
type Client struct {
	token      string
	baseURL    string
	role       Role
	httpClient *http.Client
}

var _ API = (*Client)(nil)

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// WithRole selects which send endpoint the client uses. Defaults to RoleCustomer.
func WithRole(role Role) ClientOption {
	return func(c *Client) { c.role = role }
}

// NewClient creates a new chat API client.
// token is the bearer token of the signed-in customer or admin.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token: token,
		role:  RoleCustomer,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken sets or updates the bearer token.
func (c *Client) SetToken(token string) {
	c.token = token
}

// Role returns the role the client sends as.
func (c *Client) Role() Role {
	return c.role
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.Unmarshal(data, apiErr)
		return nil, apiErr
	}
	return data, nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// ============================================================================
// Customer chat
// ============================================================================

// GetOrCreateConversation returns the signed-in customer's support thread,
// creating it on first use. Calling it twice returns the same conversation.
func (c *Client) GetOrCreateConversation(ctx context.Context) (*ConversationSnapshot, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/chat/conversation", nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[ConversationSnapshot](data)
}

// GetNewMessages returns messages of the conversation with an id greater than afterMessageID.
func (c *Client) GetNewMessages(ctx context.Context, conversationID string, afterMessageID int64) ([]Message, error) {
	path := "/chat/" + url.PathEscape(conversationID) + "/messages"
	data, err := c.doRequest(ctx, http.MethodGet, path, nil, map[string]string{
		"after_message_id": strconv.FormatInt(afterMessageID, 10),
	})
	if err != nil {
		return nil, err
	}
	res, err := decodeJSON[messagesResponse](data)
	if err != nil {
		return nil, err
	}
	return res.Messages, nil
}

// SendMessage posts text to the conversation and returns the stored message.
func (c *Client) SendMessage(ctx context.Context, conversationID, text string) (*Message, error) {
	path := "/chat/send"
	if c.role == RoleAdmin {
		path = "/admin/chat/send"
	}
	data, err := c.doRequest(ctx, http.MethodPost, path, &sendRequest{
		ConversationID: conversationID,
		Message:        text,
	}, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Message](data)
}

// ============================================================================
// Admin chat
// ============================================================================

// GetConversations lists all support conversations with server-computed unread counts.
func (c *Client) GetConversations(ctx context.Context) ([]Conversation, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/admin/chat/conversations", nil, nil)
	if err != nil {
		return nil, err
	}
	res, err := decodeJSON[conversationsResponse](data)
	if err != nil {
		return nil, err
	}
	return res.Conversations, nil
}

// GetConversationMessages returns the full history of a conversation.
func (c *Client) GetConversationMessages(ctx context.Context, conversationID string) ([]Message, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/admin/chat/"+url.PathEscape(conversationID), nil, nil)
	if err != nil {
		return nil, err
	}
	res, err := decodeJSON[messagesResponse](data)
	if err != nil {
		return nil, err
	}
	return res.Messages, nil
}
