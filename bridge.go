package chatsync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// ============================================================================
// Wire Types
// ============================================================================

// Envelope is the wire format of everything the bridge pushes to a view.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Command is a view-to-bridge instruction.
type Command struct {
	Type           string `json:"type"` // send, minimize, maximize, open, close, refresh, select
	Text           string `json:"text,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	RequestID      string `json:"requestId,omitempty"`
}

// Snapshot is the first envelope a view receives after connecting.
type Snapshot struct {
	ConversationID string    `json:"conversationId"`
	State          State     `json:"state"`
	Messages       []Message `json:"messages"`
	Unread         int       `json:"unread"`
}

type commandAck struct {
	RequestID string   `json:"requestId,omitempty"`
	Command   string   `json:"command"`
	Message   *Message `json:"message,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// ============================================================================
// Configuration
// ============================================================================

// BridgeConfig configures a Bridge.
type BridgeConfig struct {
	// JWTSecret enables HMAC bearer-token checks on /ws when set. Browsers may
	// pass the token as the "token" query parameter.
	JWTSecret string

	// HookSecret enables POST /hooks/message, the backend's signed
	// new-message notification that triggers an immediate poll.
	HookSecret string

	AllowedOrigins []string
	RateLimit      int
	RateWindow     time.Duration
	WriteTimeout   time.Duration
	SendBuffer     int
	Logger         *zap.Logger
}

func (c *BridgeConfig) defaults() {
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	if c.RateLimit == 0 {
		c.RateLimit = 60
	}
	if c.RateWindow == 0 {
		c.RateWindow = time.Minute
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.SendBuffer == 0 {
		c.SendBuffer = 64
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// ============================================================================
// Bridge
// ============================================================================

// Bridge exposes a Session (and optionally an Inbox) to a thin view over a
// websocket. Session events are pushed as envelopes; the view drives the
// session with commands.
type Bridge struct {
	session *Session
	inbox   *Inbox
	cfg     BridgeConfig
	log     *zap.Logger

	mu      sync.Mutex
	clients map[*bridgeClient]struct{}
	unsub   []func()
	closed  bool
}

type bridgeClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
	done chan struct{}
}

func (c *bridgeClient) close() {
	c.once.Do(func() { close(c.done) })
}

// NewBridge subscribes to session (and inbox, if not nil) events.
func NewBridge(session *Session, inbox *Inbox, cfg BridgeConfig) *Bridge {
	cfg.defaults()
	b := &Bridge{
		session: session,
		inbox:   inbox,
		cfg:     cfg,
		log:     cfg.Logger.With(zap.String("component", "bridge")),
		clients: make(map[*bridgeClient]struct{}),
	}
	b.unsub = append(b.unsub, session.Subscribe(b.broadcast))
	if inbox != nil {
		b.unsub = append(b.unsub, inbox.Subscribe(b.broadcast))
	}
	return b
}

// Handler returns the bridge's HTTP routes.
func (b *Bridge) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   b.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "state": string(b.session.State())})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(b.cfg.RateLimit, b.cfg.RateWindow))
		if b.cfg.JWTSecret != "" {
			r.Use(bearerAuth(b.cfg.JWTSecret))
		}
		r.Get("/ws", b.serveWS)
		r.Get("/snapshot", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, b.snapshot())
		})
		if b.inbox != nil {
			r.Get("/conversations", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, map[string]any{
					"conversations": b.inbox.Search(r.URL.Query().Get("q")),
					"unread":        b.inbox.TotalUnread(),
				})
			})
		}
	})

	if b.cfg.HookSecret != "" {
		hook, err := NewMessageHook(b.cfg.HookSecret, b.onHook)
		if err != nil {
			b.log.Warn("message hook route disabled", zap.Error(err))
		} else {
			r.With(httprate.LimitByIP(b.cfg.RateLimit, b.cfg.RateWindow)).
				Method(http.MethodPost, "/hooks/message", hook.HTTPHandler())
		}
	}
	return r
}

// onHook polls right away when the notified conversation is open, and
// refreshes the inbox for any conversation.
func (b *Bridge) onHook(ctx context.Context, p *HookPayload) error {
	b.log.Debug("message hook",
		zap.String("conversation_id", p.ConversationID),
		zap.String("message_id", string(p.MessageID)))

	if p.ConversationID == b.session.ConversationID() {
		err := b.session.Refresh(ctx)
		if err != nil && !errors.Is(err, ErrPollInFlight) && !errors.Is(err, ErrSessionClosed) {
			return err
		}
	}
	if b.inbox != nil {
		if err := b.inbox.Refresh(ctx); err != nil && !errors.Is(err, ErrPollInFlight) {
			return err
		}
	}
	return nil
}

// Close disconnects every view and unsubscribes from the session.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	clients := b.clients
	b.clients = make(map[*bridgeClient]struct{})
	unsub := b.unsub
	b.unsub = nil
	b.mu.Unlock()

	for _, u := range unsub {
		u()
	}
	for c := range clients {
		c.close()
	}
}

// ClientCount returns the number of connected views.
func (b *Bridge) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

func (b *Bridge) snapshot() Snapshot {
	return Snapshot{
		ConversationID: b.session.ConversationID(),
		State:          b.session.State(),
		Messages:       b.session.Messages(),
		Unread:         b.session.Unread(),
	}
}

func (b *Bridge) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(b.cfg.AllowedOrigins),
	})
	if err != nil {
		b.log.Warn("websocket accept failed", zap.Error(err))
		return
	}

	c := &bridgeClient{
		conn: conn,
		send: make(chan []byte, b.cfg.SendBuffer),
		done: make(chan struct{}),
	}
	first, err := encodeEnvelope("snapshot", b.snapshot())
	if err != nil {
		conn.Close(websocket.StatusInternalError, "snapshot")
		return
	}
	c.send <- first

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		conn.Close(websocket.StatusGoingAway, "bridge closed")
		return
	}
	b.clients[c] = struct{}{}
	b.mu.Unlock()
	b.log.Debug("view connected", zap.String("remote", r.RemoteAddr))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go b.writeLoop(ctx, c)
	b.readLoop(ctx, c)

	b.remove(c)
	conn.Close(websocket.StatusNormalClosure, "")
	b.log.Debug("view disconnected", zap.String("remote", r.RemoteAddr))
}

func (b *Bridge) readLoop(ctx context.Context, c *bridgeClient) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			b.reply(c, commandAck{Command: "unknown", Error: "invalid command"})
			continue
		}
		go b.handleCommand(ctx, c, cmd)
	}
}

func (b *Bridge) writeLoop(ctx context.Context, c *bridgeClient) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			c.conn.Close(websocket.StatusGoingAway, "")
			return
		case data := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, b.cfg.WriteTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				c.close()
				return
			}
		}
	}
}

func (b *Bridge) handleCommand(ctx context.Context, c *bridgeClient, cmd Command) {
	ack := commandAck{RequestID: cmd.RequestID, Command: cmd.Type}
	var err error
	switch cmd.Type {
	case "send":
		ack.Message, err = b.session.Send(ctx, cmd.Text)
	case "minimize":
		b.session.Minimize()
	case "maximize":
		b.session.Maximize()
	case "open":
		err = b.session.Open(ctx)
	case "close":
		b.session.Close()
	case "refresh":
		err = b.session.Refresh(ctx)
		if errors.Is(err, ErrPollInFlight) {
			err = nil
		}
	case "select":
		err = b.session.Select(ctx, cmd.ConversationID)
	default:
		err = errors.New("unknown command " + cmd.Type)
	}
	if err != nil {
		ack.Error = err.Error()
	}
	b.reply(c, ack)
}

func (b *Bridge) reply(c *bridgeClient, ack commandAck) {
	data, err := encodeEnvelope("ack", ack)
	if err != nil {
		return
	}
	b.enqueue(c, data)
}

func (b *Bridge) broadcast(ev Event) {
	data, err := encodeEnvelope(string(ev.Type), ev)
	if err != nil {
		b.log.Warn("encode event failed", zap.String("type", string(ev.Type)), zap.Error(err))
		return
	}
	b.mu.Lock()
	clients := make([]*bridgeClient, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.Unlock()
	for _, c := range clients {
		b.enqueue(c, data)
	}
}

// enqueue never blocks; a view that cannot keep up is disconnected.
func (b *Bridge) enqueue(c *bridgeClient, data []byte) {
	select {
	case <-c.done:
	case c.send <- data:
	default:
		b.log.Warn("view too slow, disconnecting")
		b.remove(c)
		c.close()
	}
}

func (b *Bridge) remove(c *bridgeClient) {
	b.mu.Lock()
	delete(b.clients, c)
	b.mu.Unlock()
}

// ============================================================================
// Helpers
// ============================================================================

func encodeEnvelope(typ string, payload any) ([]byte, error) {
	p, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: typ, Payload: p})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// originPatterns strips schemes: websocket.AcceptOptions matches on host only.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if i := strings.Index(o, "://"); i >= 0 {
			o = o[i+3:]
		}
		out = append(out, o)
	}
	return out
}

func bearerAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := r.URL.Query().Get("token")
			if h := r.Header.Get("Authorization"); h != "" {
				parts := strings.SplitN(h, " ", 2)
				if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
					http.Error(w, `{"error":"invalid authorization header format"}`, http.StatusUnauthorized)
					return
				}
				tokenString = parts[1]
			}
			if tokenString == "" {
				http.Error(w, `{"error":"missing token"}`, http.StatusUnauthorized)
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
