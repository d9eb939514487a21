package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/shopfront/chatsync"
)

func TestSetConfigValue(t *testing.T) {
	tests := []struct {
		key, value string
		wantErr    bool
		check      func(*Config) bool
	}{
		{"default.base_url", "https://shop.example.com/api", false, func(c *Config) bool { return c.Default.BaseURL == "https://shop.example.com/api" }},
		{"default.role", "Admin", false, func(c *Config) bool { return c.Default.Role == "admin" }},
		{"default.role", "guest", true, nil},
		{"default.poll_interval", "2s", false, func(c *Config) bool { return c.Default.PollInterval == "2s" }},
		{"default.inbox_interval", "-5s", true, nil},
		{"default.poll_interval", "soon", true, nil},
		{"default.log_level", "debug", false, func(c *Config) bool { return c.Default.LogLevel == "debug" }},
		{"auth.token", "tok", false, func(c *Config) bool { return c.Auth.Token == "tok" }},
		{"auth.password", "x", true, nil},
		{"nosection", "x", true, nil},
		{"other.field", "x", true, nil},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			cfg := &Config{}
			err := setConfigValue(cfg, tt.key, tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil && !tt.check(cfg) {
				t.Errorf("config not updated: %+v", cfg)
			}
		})
	}
}

func TestConfigRoundTrip(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig on empty home: %v", err)
	}
	if cfg.Auth.Token != "" {
		t.Errorf("expected zero config, got %+v", cfg)
	}

	cfg.Default.BaseURL = "http://localhost:8000/api"
	cfg.Default.Role = "admin"
	cfg.Auth.Token = "secret"
	if err := saveConfig(cfg); err != nil {
		t.Fatalf("saveConfig: %v", err)
	}

	path := filepath.Join(home, ".chatsync", "config.toml")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("config mode = %v", info.Mode().Perm())
	}

	loaded, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if *loaded != *cfg {
		t.Errorf("loaded = %+v, want %+v", loaded, cfg)
	}
}

func TestResolveSettings(t *testing.T) {
	cfg := &Config{
		Default: ConfigDefault{BaseURL: "http://file/api/", Role: "customer", PollInterval: "4s"},
		Auth:    ConfigAuth{Token: "file-token"},
	}

	t.Run("file values and defaults", func(t *testing.T) {
		s, err := resolveSettings(cfg)
		if err != nil {
			t.Fatalf("resolveSettings: %v", err)
		}
		if s.BaseURL != "http://file/api" || s.Token != "file-token" || s.Role != chatsync.RoleCustomer {
			t.Errorf("settings = %+v", s)
		}
		if s.PollInterval != 4*time.Second || s.InboxInterval != chatsync.DefaultInboxInterval {
			t.Errorf("intervals = %s, %s", s.PollInterval, s.InboxInterval)
		}
		if s.LogLevel != "warn" {
			t.Errorf("LogLevel = %q", s.LogLevel)
		}
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("CHATSYNC_TOKEN", "env-token")
		t.Setenv("CHATSYNC_ROLE", "admin")
		t.Setenv("CHATSYNC_INBOX_INTERVAL", "10s")
		s, err := resolveSettings(cfg)
		if err != nil {
			t.Fatalf("resolveSettings: %v", err)
		}
		if s.Token != "env-token" || s.Role != chatsync.RoleAdmin || s.InboxInterval != 10*time.Second {
			t.Errorf("settings = %+v", s)
		}
	})

	t.Run("invalid environment", func(t *testing.T) {
		t.Setenv("CHATSYNC_POLL_INTERVAL", "0s")
		if _, err := resolveSettings(cfg); err == nil {
			t.Error("expected error for zero interval")
		}
	})
}

func TestPrintEffectiveSettings(t *testing.T) {
	cfg := &Config{
		Default: ConfigDefault{BaseURL: "http://file/api", Role: "admin", PollInterval: "4s"},
		Auth:    ConfigAuth{Token: "file-token-0123456789"},
	}
	t.Setenv("CHATSYNC_POLL_INTERVAL", "2s")

	var buf bytes.Buffer
	if err := printEffectiveSettings(&buf, cfg); err != nil {
		t.Fatalf("printEffectiveSettings: %v", err)
	}

	lines := map[string][]string{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n")[1:] {
		fields := strings.Fields(line)
		lines[fields[0]] = fields[1:]
	}
	tests := []struct {
		key   string
		value string
		from  string
	}{
		{"default.base_url", "http://file/api", "file"},
		{"default.role", "admin", "file"},
		{"default.poll_interval", "2s", "env"},
		{"default.inbox_interval", "5s", "default"},
		{"default.log_level", "warn", "default"},
		{"auth.token", "file-t...6789", "file"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got := lines[tt.key]
			if len(got) < 2 || got[0] != tt.value || got[1] != tt.from {
				t.Errorf("%s = %v, want value %q from %q", tt.key, got, tt.value, tt.from)
			}
		})
	}
	if strings.Contains(buf.String(), "file-token-0123456789") {
		t.Error("token printed unmasked")
	}

	t.Run("invalid environment", func(t *testing.T) {
		t.Setenv("CHATSYNC_ROLE", "robot")
		if err := printEffectiveSettings(&bytes.Buffer{}, cfg); err == nil {
			t.Error("expected error for unknown role")
		}
	})
}

func TestInspectToken(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "customer-42",
		"role": "customer",
		"exp":  exp.Unix(),
	})
	signed, err := tok.SignedString([]byte("server-only-secret"))
	if err != nil {
		t.Fatal(err)
	}

	info, err := inspectToken(signed)
	if err != nil {
		t.Fatalf("inspectToken: %v", err)
	}
	if info.Subject != "customer-42" || info.Role != "customer" {
		t.Errorf("info = %+v", info)
	}
	if info.Expires == nil || !info.Expires.Equal(exp) {
		t.Errorf("Expires = %v, want %v", info.Expires, exp)
	}
	if !strings.HasPrefix(info.expiryStatus(time.Now()), "valid") {
		t.Errorf("expiryStatus = %q", info.expiryStatus(time.Now()))
	}
	if !strings.HasPrefix(info.expiryStatus(exp.Add(time.Minute)), "EXPIRED") {
		t.Error("expected EXPIRED after exp")
	}

	if _, err := inspectToken("not-a-jwt"); err == nil {
		t.Error("expected error for malformed token")
	}
}

func TestMaskKey(t *testing.T) {
	if got := maskKey("short"); got != "*****" {
		t.Errorf("maskKey(short) = %q", got)
	}
	if got := maskKey("abcdefghijklmnop"); got != "abcdef...mnop" {
		t.Errorf("maskKey = %q", got)
	}
}

func TestEventPrinter(t *testing.T) {
	var out bytes.Buffer
	p := newEventPrinter(&out, chatsync.RoleCustomer)
	at := time.Date(2024, 1, 1, 9, 5, 0, 0, time.Local)

	p.handle(chatsync.Event{Type: chatsync.EventMessagesMerged, Messages: []chatsync.Message{
		{ID: "1", SenderType: chatsync.RoleAdmin, Text: "Hi", CreatedAt: at},
	}})
	p.handle(chatsync.Event{Type: chatsync.EventMessagePending, Messages: []chatsync.Message{
		{ID: "temp-1", SenderType: chatsync.RoleCustomer, Text: "Thanks"},
	}})
	p.handle(chatsync.Event{Type: chatsync.EventUnreadChanged, Unread: 0})
	p.handle(chatsync.Event{Type: chatsync.EventMessageFailed, Error: "boom"})

	want := "[09:05] admin: Hi\n[--:--] you: Thanks (sending)\n! message not sent: boom\n"
	if out.String() != want {
		t.Errorf("output =\n%s\nwant\n%s", out.String(), want)
	}
}

func TestRunInteractive(t *testing.T) {
	var sent []string
	r := chi.NewRouter()
	r.Get("/chat/conversation", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"conversation_id": "c1",
			"messages": []map[string]any{
				{"message_id": 1, "sender_type": "admin", "message": "Welcome!"},
			},
		})
	})
	r.Get("/chat/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"messages":[]}`))
	})
	r.Post("/chat/send", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Message string `json:"message"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		sent = append(sent, req.Message)
		json.NewEncoder(w).Encode(map[string]any{
			"message_id": 1 + len(sent), "sender_type": "customer", "message": req.Message,
		})
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	client := chatsync.NewClient("tok", chatsync.WithBaseURL(srv.URL))
	sess := chatsync.NewSession(client, chatsync.RoleCustomer, chatsync.WithPollInterval(time.Hour))
	defer sess.Destroy()

	in := strings.NewReader("hello\n\n/bogus\n/min\n/quit\nnever sent\n")
	var out bytes.Buffer
	if err := runInteractive(context.Background(), sess, in, &out, zap.NewNop(), sess.Open); err != nil {
		t.Fatalf("runInteractive: %v", err)
	}

	if len(sent) != 1 || sent[0] != "hello" {
		t.Errorf("sent = %v", sent)
	}
	text := out.String()
	for _, want := range []string{"admin: Welcome!", "you: hello (sending)", "unknown command /bogus", "* minimized"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
	if sess.State() != chatsync.StateMinimized {
		t.Errorf("state = %s", sess.State())
	}
}
