package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shopfront/chatsync"
)

func init() {
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with support as the signed-in customer",
	Long: `Open the customer's support conversation and keep it in sync.

Lines typed on stdin are sent. Commands:
  /min      minimize (new support replies are counted as unread)
  /max      bring the chat back and clear the unread count
  /refresh  poll right away
  /quit     leave`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s := mustSettings()
		requireRole(s, chatsync.RoleCustomer, "chat")
		log := newLogger(s)
		defer log.Sync()

		sess := chatsync.NewSession(getClient(s, chatsync.RoleCustomer), chatsync.RoleCustomer,
			chatsync.WithLogger(log),
			chatsync.WithPollInterval(s.PollInterval),
		)
		defer sess.Destroy()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runInteractive(ctx, sess, os.Stdin, os.Stdout, log, sess.Open)
	},
}

// runInteractive opens sess with open, prints its history and events, and
// reads input lines until /quit, EOF or ctx is done.
func runInteractive(ctx context.Context, sess *chatsync.Session, in io.Reader, out io.Writer, log *zap.Logger, open func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	printer := newEventPrinter(out, sess.Role())

	if err := open(ctx); err != nil {
		return err
	}
	printer.printHistory(sess.Messages())
	unsubscribe := sess.Subscribe(printer.handle)
	defer unsubscribe()
	fmt.Fprintf(out, "* conversation %s, type /quit to leave\n", sess.ConversationID())

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleInput(ctx, sess, strings.TrimSpace(line), out, log); quit {
				return nil
			}
		}
	}
}

func handleInput(ctx context.Context, sess *chatsync.Session, line string, out io.Writer, log *zap.Logger) (quit bool) {
	switch line {
	case "":
	case "/quit", "/exit":
		return true
	case "/min":
		sess.Minimize()
	case "/max":
		if err := sess.Open(ctx); err != nil {
			fmt.Fprintf(out, "! %v\n", err)
		}
	case "/refresh":
		if err := sess.Refresh(ctx); err != nil && !errors.Is(err, chatsync.ErrPollInFlight) {
			fmt.Fprintf(out, "! %v\n", err)
		}
	default:
		if strings.HasPrefix(line, "/") {
			fmt.Fprintf(out, "! unknown command %s\n", line)
			return false
		}
		// Failures are reported through the message.failed event.
		if _, err := sess.Send(ctx, line); err != nil {
			log.Debug("send returned error", zap.Error(err))
		}
	}
	return false
}
