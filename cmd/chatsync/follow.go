package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shopfront/chatsync"
)

func init() {
	rootCmd.AddCommand(followCmd)
}

var followCmd = &cobra.Command{
	Use:   "follow <conversation-id>",
	Short: "Open a customer conversation as an admin and reply to it",
	Long:  "Load a conversation's full history, keep it in sync, and send stdin lines as admin replies.\nSupports the same /min, /max, /refresh and /quit commands as 'chatsync chat'.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s := mustSettings()
		requireRole(s, chatsync.RoleAdmin, "follow")
		log := newLogger(s)
		defer log.Sync()

		client := getClient(s, chatsync.RoleAdmin)
		inbox := chatsync.NewInbox(client,
			chatsync.WithInboxInterval(s.InboxInterval),
			chatsync.WithInboxLogger(log),
		)
		sess := chatsync.NewSession(client, chatsync.RoleAdmin,
			chatsync.WithLogger(log),
			chatsync.WithPollInterval(s.PollInterval),
			chatsync.WithInbox(inbox),
		)
		defer sess.Destroy()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		conversationID := args[0]
		return runInteractive(ctx, sess, os.Stdin, os.Stdout, log, func(ctx context.Context) error {
			return sess.Select(ctx, conversationID)
		})
	},
}
