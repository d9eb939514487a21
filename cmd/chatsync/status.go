package main

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/shopfront/chatsync"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and token status",
	Long:  "Display the effective configuration, decode the bearer token's claims, and for admins fetch the live conversation count.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		s, err := resolveSettings(cfg)
		if err != nil {
			return err
		}

		fmt.Println("Configuration:")
		fmt.Printf("  Base URL:       %s\n", valueOrDefault(s.BaseURL, "(not set)"))
		fmt.Printf("  Role:           %s\n", s.Role)
		fmt.Printf("  Poll interval:  %s\n", s.PollInterval)
		fmt.Printf("  Inbox interval: %s\n", s.InboxInterval)
		fmt.Printf("  Log level:      %s\n", s.LogLevel)

		fmt.Println()
		fmt.Println("Auth:")
		if s.Token == "" {
			fmt.Println("  Token:          (not set)")
			return nil
		}
		fmt.Printf("  Token:          %s\n", maskKey(s.Token))
		info, err := inspectToken(s.Token)
		if err != nil {
			fmt.Printf("  Claims:         unreadable (%v)\n", err)
		} else {
			fmt.Printf("  Subject:        %s\n", valueOrDefault(info.Subject, "(none)"))
			if info.Role != "" {
				fmt.Printf("  Token role:     %s\n", info.Role)
			}
			fmt.Printf("  Expiry:         %s\n", info.expiryStatus(time.Now()))
		}

		if s.Role != chatsync.RoleAdmin || s.BaseURL == "" {
			return nil
		}

		fmt.Println()
		fmt.Println("Live status:")
		ctx, cancel := context.WithTimeout(context.Background(), chatsync.DefaultTimeout)
		defer cancel()

		convs, err := getClient(s, chatsync.RoleAdmin).GetConversations(ctx)
		if err != nil {
			fmt.Printf("  Error fetching conversations: %v\n", err)
			return nil
		}
		unread := 0
		for _, c := range convs {
			unread += c.UnreadCount
		}
		fmt.Printf("  Conversations:  %d\n", len(convs))
		fmt.Printf("  Unread:         %d\n", unread)
		return nil
	},
}

// tokenInfo is what status shows about a bearer token. The signature is not
// checked; only the server can do that.
type tokenInfo struct {
	Subject string
	Role    string
	Expires *time.Time
}

func inspectToken(token string) (*tokenInfo, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, err
	}
	info := &tokenInfo{}
	info.Subject, _ = claims.GetSubject()
	if role, ok := claims["role"].(string); ok {
		info.Role = role
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		t := exp.Time
		info.Expires = &t
	}
	return info, nil
}

func (i *tokenInfo) expiryStatus(now time.Time) string {
	if i.Expires == nil {
		return "no expiry set"
	}
	if now.Before(*i.Expires) {
		return fmt.Sprintf("valid (expires %s)", i.Expires.Format(time.RFC3339))
	}
	return fmt.Sprintf("EXPIRED (expired %s)", i.Expires.Format(time.RFC3339))
}
