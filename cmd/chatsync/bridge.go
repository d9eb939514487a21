package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shopfront/chatsync"
)

var (
	bridgeListen       string
	bridgeConversation string
	bridgeJWTSecret    string
	bridgeOrigins      string
	bridgeHookSecret   string
)

func init() {
	rootCmd.AddCommand(bridgeCmd)
	bridgeCmd.Flags().StringVar(&bridgeListen, "listen", ":8090", "Address to serve the bridge on")
	bridgeCmd.Flags().StringVar(&bridgeConversation, "conversation", "", "Conversation to open (admin role only)")
	bridgeCmd.Flags().StringVar(&bridgeJWTSecret, "jwt-secret", "", "HMAC secret for view tokens (default $CHATSYNC_BRIDGE_SECRET; empty disables auth)")
	bridgeCmd.Flags().StringVar(&bridgeHookSecret, "hook-secret", "", "Secret for signed new-message hooks on /hooks/message (default $CHATSYNC_HOOK_SECRET; empty disables)")
	bridgeCmd.Flags().StringVar(&bridgeOrigins, "origins", "", "Comma-separated allowed view origins")
}

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Serve a chat session to a browser view over a websocket",
	Long:  "Run one chat session and expose it on /ws: session events are pushed to connected views and views send commands back.\nAlso serves /health, /snapshot and /metrics.",
	RunE: func(cmd *cobra.Command, args []string) error {
		s := mustSettings()
		log := newLogger(s)
		defer log.Sync()

		client := getClient(s, s.Role)
		opts := []chatsync.SessionOption{
			chatsync.WithLogger(log),
			chatsync.WithPollInterval(s.PollInterval),
		}

		var inbox *chatsync.Inbox
		if s.Role == chatsync.RoleAdmin {
			inbox = chatsync.NewInbox(client,
				chatsync.WithInboxInterval(s.InboxInterval),
				chatsync.WithInboxLogger(log),
			)
			opts = append(opts, chatsync.WithInbox(inbox))
		} else if bridgeConversation != "" {
			return errors.New("--conversation needs the admin role")
		}
		sess := chatsync.NewSession(client, s.Role, opts...)
		defer sess.Destroy()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if inbox != nil {
			if err := inbox.Start(ctx); err != nil {
				log.Warn("initial inbox load failed", zap.Error(err))
			}
			defer inbox.Stop()
		}
		switch {
		case s.Role == chatsync.RoleCustomer:
			if err := sess.Open(ctx); err != nil {
				return err
			}
		case bridgeConversation != "":
			if err := sess.Select(ctx, bridgeConversation); err != nil {
				return err
			}
		}

		var origins []string
		if bridgeOrigins != "" {
			for _, o := range strings.Split(bridgeOrigins, ",") {
				origins = append(origins, strings.TrimSpace(o))
			}
		}
		bridge := chatsync.NewBridge(sess, inbox, chatsync.BridgeConfig{
			JWTSecret:      valueOrDefault(bridgeJWTSecret, os.Getenv("CHATSYNC_BRIDGE_SECRET")),
			HookSecret:     valueOrDefault(bridgeHookSecret, os.Getenv("CHATSYNC_HOOK_SECRET")),
			AllowedOrigins: origins,
			Logger:         log,
		})
		defer bridge.Close()

		server := &http.Server{
			Addr:              bridgeListen,
			Handler:           bridge.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			log.Info("bridge listening", zap.String("addr", bridgeListen))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
		fmt.Printf("Bridge listening on %s (role: %s)\n", bridgeListen, s.Role)

		select {
		case err := <-errCh:
			return fmt.Errorf("bridge server: %w", err)
		case <-ctx.Done():
		}

		log.Info("shutting down bridge")
		bridge.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("bridge forced to shutdown", zap.Error(err))
		}
		return nil
	},
}
