package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/client"
)

var (
	messagesLimit  int
	messagesOffset int
	searchChat     int64
	replyTo        string
)

func printMessages(msgs []api.Message) {
	if jsonOutput {
		outputJSON(api.MessageList{Messages: msgs})
		return
	}
	// Oldest first reads like a conversation.
	for _, m := range slices.Backward(msgs) {
		marker := ""
		if m.Pending {
			marker = " (" + m.Status + ")"
		}
		fmt.Printf("[%s] %d: %s%s\n", formatMs(m.CreatedAt), m.SenderID, m.Body, marker)
	}
}

var messagesCmd = &cobra.Command{
	Use:   "messages <chat-id>",
	Short: "List cached messages of a chat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return run(func(ctx context.Context, c *client.Client) error {
			msgs, err := c.ListMessages(ctx, api.MessagesRequest{ChatID: id, Limit: messagesLimit})
			if err != nil {
				return err
			}
			printMessages(msgs)
			return nil
		})
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync <chat-id>",
	Short: "Fetch a chat's messages from the server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return run(func(ctx context.Context, c *client.Client) error {
			msgs, err := c.SyncMessages(ctx, api.MessagesRequest{ChatID: id, Limit: messagesLimit, Offset: messagesOffset})
			if err != nil {
				return err
			}
			printMessages(msgs)
			return nil
		})
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search cached messages",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(func(ctx context.Context, c *client.Client) error {
			hits, err := c.Search(ctx, api.SearchRequest{Query: strings.Join(args, " "), ChatID: searchChat, Limit: messagesLimit})
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(api.SearchResults{Results: hits})
				return nil
			}
			for _, h := range hits {
				fmt.Printf("%d  %s  %s\n", h.Message.ChatID, formatMs(h.Message.CreatedAt), h.Snippet)
			}
			return nil
		})
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <chat-id> <text>",
	Short: "Send a text message",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return run(func(ctx context.Context, c *client.Client) error {
			key, err := c.SendText(ctx, id, strings.Join(args[1:], " "), replyTo)
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(api.SendResponse{Key: key})
				return nil
			}
			fmt.Println(key)
			return nil
		})
	},
}

var deleteMessageCmd = &cobra.Command{
	Use:   "delete-message <key>",
	Short: "Delete a message for everyone",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(func(ctx context.Context, c *client.Client) error {
			return c.DeleteMessage(ctx, args[0])
		})
	},
}

var tailCmd = &cobra.Command{
	Use:   "tail <chat-id>",
	Short: "Follow a chat's messages; the chat counts as open meanwhile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		c, err := dial()
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		err = c.WatchMessages(ctx, id, messagesLimit, func(msgs []api.Message) error {
			if !jsonOutput {
				fmt.Println("--")
			}
			printMessages(msgs)
			return nil
		})
		if ctx.Err() != nil {
			return nil
		}
		return err
	},
}

func init() {
	for _, cmd := range []*cobra.Command{messagesCmd, syncCmd, searchCmd, tailCmd} {
		cmd.Flags().IntVar(&messagesLimit, "limit", 50, "maximum number of messages")
	}
	syncCmd.Flags().IntVar(&messagesOffset, "offset", 0, "skip this many newest messages")
	searchCmd.Flags().Int64Var(&searchChat, "chat", 0, "only search this chat")
	sendCmd.Flags().StringVar(&replyTo, "reply-to", "", "key of the message being answered")

	rootCmd.AddCommand(messagesCmd, syncCmd, searchCmd, sendCmd, deleteMessageCmd, tailCmd)
}
