package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/shopfront/chatsync"
	"github.com/shopfront/chatsync/internal/logger"
)

// ============================================================================
// Settings
// ============================================================================

// settings is the effective configuration: config file, then .env and
// CHATSYNC_* environment variables on top.
type settings struct {
	BaseURL       string
	Token         string
	Role          chatsync.Role
	PollInterval  time.Duration
	InboxInterval time.Duration
	LogLevel      string
}

// loadDotEnv loads ./.env into the environment. A missing file is fine.
func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: could not load .env: %v\n", err)
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// resolveSettings merges cfg with the environment and validates the result.
func resolveSettings(cfg *Config) (*settings, error) {
	s := &settings{
		BaseURL:  strings.TrimRight(getEnv("CHATSYNC_BASE_URL", cfg.Default.BaseURL), "/"),
		Token:    getEnv("CHATSYNC_TOKEN", cfg.Auth.Token),
		LogLevel: getEnv("CHATSYNC_LOG_LEVEL", valueOrDefault(cfg.Default.LogLevel, "warn")),
	}

	role, err := chatsync.ParseRole(getEnv("CHATSYNC_ROLE", valueOrDefault(cfg.Default.Role, string(chatsync.RoleCustomer))))
	if err != nil {
		return nil, err
	}
	s.Role = role

	if s.PollInterval, err = intervalSetting("CHATSYNC_POLL_INTERVAL", cfg.Default.PollInterval, chatsync.DefaultPollInterval); err != nil {
		return nil, err
	}
	if s.InboxInterval, err = intervalSetting("CHATSYNC_INBOX_INTERVAL", cfg.Default.InboxInterval, chatsync.DefaultInboxInterval); err != nil {
		return nil, err
	}
	return s, nil
}

func intervalSetting(envKey, fileValue string, def time.Duration) (time.Duration, error) {
	raw := getEnv(envKey, fileValue)
	if raw == "" {
		return def, nil
	}
	d, err := parseInterval(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", envKey, raw, err)
	}
	return d, nil
}

// ============================================================================
// Clients
// ============================================================================

// mustSettings loads the effective settings or exits.
func mustSettings() *settings {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	s, err := resolveSettings(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if s.Token == "" {
		fmt.Fprintln(os.Stderr, "No token. Run 'chatsync init <token>' or set CHATSYNC_TOKEN.")
		os.Exit(1)
	}
	if s.BaseURL == "" {
		fmt.Fprintln(os.Stderr, "No API URL. Run 'chatsync config set default.base_url <url>' or set CHATSYNC_BASE_URL.")
		os.Exit(1)
	}
	return s
}

// getClient creates a chat client acting as role.
func getClient(s *settings, role chatsync.Role) *chatsync.Client {
	return chatsync.NewClient(s.Token,
		chatsync.WithBaseURL(s.BaseURL),
		chatsync.WithRole(role),
	)
}

// requireRole exits unless the configured role is want.
func requireRole(s *settings, want chatsync.Role, command string) {
	if s.Role != want {
		fmt.Fprintf(os.Stderr, "'chatsync %s' needs the %s role; configured role is %s.\n", command, want, s.Role)
		os.Exit(1)
	}
}

// newLogger builds the command logger. --log-level wins over settings.
func newLogger(s *settings) *zap.Logger {
	level := s.LogLevel
	if flagLogLevel != "" {
		level = flagLogLevel
	}
	log, err := logger.ForCLI(level, flagPretty)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: logger setup failed, logging disabled: %v\n", err)
		return zap.NewNop()
	}
	return log
}

// ============================================================================
// Output
// ============================================================================

// eventPrinter renders session events as chat lines.
type eventPrinter struct {
	mu    sync.Mutex
	out   io.Writer
	local chatsync.Role
}

func newEventPrinter(out io.Writer, local chatsync.Role) *eventPrinter {
	return &eventPrinter{out: out, local: local}
}

func (p *eventPrinter) handle(ev chatsync.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev.Type {
	case chatsync.EventMessagesMerged:
		for _, m := range ev.Messages {
			fmt.Fprintln(p.out, p.formatMessage(m))
		}
	case chatsync.EventMessagePending:
		for _, m := range ev.Messages {
			fmt.Fprintf(p.out, "%s (sending)\n", p.formatMessage(m))
		}
	case chatsync.EventMessageFailed:
		fmt.Fprintf(p.out, "! message not sent: %s\n", ev.Error)
	case chatsync.EventUnreadChanged:
		if ev.Unread > 0 {
			fmt.Fprintf(p.out, "* %d unread\n", ev.Unread)
		}
	case chatsync.EventStateChanged:
		fmt.Fprintf(p.out, "* %s\n", ev.State)
	case chatsync.EventPollError:
		fmt.Fprintf(p.out, "! refresh failed: %s\n", ev.Error)
	}
}

func (p *eventPrinter) printHistory(msgs []chatsync.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range msgs {
		fmt.Fprintln(p.out, p.formatMessage(m))
	}
}

func (p *eventPrinter) formatMessage(m chatsync.Message) string {
	who := string(m.SenderType)
	if m.SenderType == p.local {
		who = "you"
	}
	ts := "--:--"
	if !m.CreatedAt.IsZero() {
		ts = m.CreatedAt.Local().Format("15:04")
	}
	return fmt.Sprintf("[%s] %s: %s", ts, who, m.Text)
}

// maskKey shows the first 6 and last 4 characters of a secret.
func maskKey(key string) string {
	if len(key) <= 12 {
		return strings.Repeat("*", len(key))
	}
	return key[:6] + "..." + key[len(key)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
