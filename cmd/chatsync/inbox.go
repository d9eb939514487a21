package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/shopfront/chatsync"
)

var (
	inboxSearch string
	inboxOnce   bool
)

func init() {
	rootCmd.AddCommand(inboxCmd)
	inboxCmd.Flags().StringVar(&inboxSearch, "search", "", "Only show conversations whose customer name contains this text")
	inboxCmd.Flags().BoolVar(&inboxOnce, "once", false, "Print the list once and exit")
}

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "Watch the admin conversation list",
	Long:  "List support conversations with their unread counts, refreshing on the inbox interval until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		s := mustSettings()
		requireRole(s, chatsync.RoleAdmin, "inbox")
		log := newLogger(s)
		defer log.Sync()

		inbox := chatsync.NewInbox(getClient(s, chatsync.RoleAdmin),
			chatsync.WithInboxInterval(s.InboxInterval),
			chatsync.WithInboxLogger(log),
		)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if inboxOnce {
			if err := inbox.Refresh(ctx); err != nil {
				return fmt.Errorf("load conversations: %w", err)
			}
			printConversations(os.Stdout, inbox, inboxSearch)
			return nil
		}

		inbox.Subscribe(func(ev chatsync.Event) {
			switch ev.Type {
			case chatsync.EventConversationsUpdate:
				printConversations(os.Stdout, inbox, inboxSearch)
			case chatsync.EventPollError:
				fmt.Fprintf(os.Stderr, "! refresh failed: %s\n", ev.Error)
			}
		})
		if err := inbox.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "! initial load failed: %v (retrying)\n", err)
		}
		defer inbox.Stop()

		<-ctx.Done()
		return nil
	},
}

func printConversations(out io.Writer, inbox *chatsync.Inbox, search string) {
	convs := inbox.Search(search)
	fmt.Fprintf(out, "\n%d conversation(s), %d unread\n", len(convs), inbox.TotalUnread())
	if len(convs) == 0 {
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCUSTOMER\tUNREAD\tUPDATED\tLAST MESSAGE")
	for _, c := range convs {
		updated := "-"
		if !c.UpdatedAt.IsZero() {
			updated = c.UpdatedAt.Local().Format("02.01 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", c.ID, c.CustomerName, inbox.Unread(c.ID), updated, truncate(c.LastMessage, 48))
	}
	w.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
