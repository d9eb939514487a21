package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/shopfront/chatsync"
)

var exportOutput string

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default conversation_<id>_<timestamp>.xlsx)")
}

var exportCmd = &cobra.Command{
	Use:   "export <conversation-id>",
	Short: "Export a conversation transcript to an Excel file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s := mustSettings()
		requireRole(s, chatsync.RoleAdmin, "export")
		client := getClient(s, chatsync.RoleAdmin)
		conversationID := args[0]

		ctx, cancel := context.WithTimeout(context.Background(), 2*chatsync.DefaultTimeout)
		defer cancel()

		msgs, err := client.GetConversationMessages(ctx, conversationID)
		if err != nil {
			return fmt.Errorf("load conversation %s: %w", conversationID, err)
		}

		// The list is only needed for the customer name.
		conv := chatsync.Conversation{ID: conversationID}
		if convs, err := client.GetConversations(ctx); err == nil {
			for _, c := range convs {
				if c.ID == conversationID {
					conv = c
					break
				}
			}
		}

		path := exportOutput
		if path == "" {
			path = fmt.Sprintf("conversation_%s_%s.xlsx", conversationID, time.Now().Format("20060102_150405"))
		}
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		if err := chatsync.WriteTranscriptXLSX(f, conv, msgs); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("close %s: %w", path, err)
		}

		fmt.Printf("Exported %d messages to %s\n", len(msgs), path)
		return nil
	},
}
