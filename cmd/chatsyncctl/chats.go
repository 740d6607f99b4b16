package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/client"
)

var (
	chatsFolder int64
	chatsHidden bool

	inviteUses    int
	inviteExpires time.Duration
)

func printChats(chats []api.Chat) {
	if jsonOutput {
		outputJSON(api.ChatList{Chats: chats})
		return
	}
	if len(chats) == 0 {
		fmt.Println("No chats.")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tNAME\tUNREAD\tFLAGS")
	for _, c := range chats {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n", c.ID, c.Type, c.Name, c.UnreadCount, chatFlags(c))
	}
	_ = w.Flush()
}

func chatFlags(c api.Chat) string {
	var flags []string
	if c.IsPinned {
		flags = append(flags, "pinned")
	}
	if c.Muted {
		flags = append(flags, "muted")
	}
	if c.IsHidden {
		flags = append(flags, "hidden")
	}
	if c.Placeholder {
		flags = append(flags, "placeholder")
	}
	return strings.Join(flags, ",")
}

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "List cached chats",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(func(ctx context.Context, c *client.Client) error {
			chats, err := c.ListChats(ctx, api.ListChatsRequest{FolderID: chatsFolder, IncludeHidden: chatsHidden})
			if err != nil {
				return err
			}
			printChats(chats)
			return nil
		})
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat <chat-id>",
	Short: "Show one chat, refreshed from the server when reachable",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return run(func(ctx context.Context, c *client.Client) error {
			chat, err := c.ChatInfo(ctx, id)
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(chat)
				return nil
			}
			fmt.Printf("ID:      %d\n", chat.ID)
			fmt.Printf("Name:    %s\n", chat.Name)
			fmt.Printf("Type:    %s\n", chat.Type)
			fmt.Printf("Members: %d\n", len(chat.ParticipantIDs))
			fmt.Printf("Unread:  %d\n", chat.UnreadCount)
			fmt.Printf("Flags:   %s\n", chatFlags(chat))
			return nil
		})
	},
}

// chatActionCmd builds a command that applies a single-chat mutation.
func chatActionCmd(use, short, method string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <chat-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return run(func(ctx context.Context, c *client.Client) error {
				return c.ChatAction(ctx, method, id)
			})
		},
	}
}

var muteCmd = &cobra.Command{
	Use:   "mute <chat-id> <1h|1d|1m|forever>",
	Short: "Mute a chat",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return run(func(ctx context.Context, c *client.Client) error {
			return c.Mute(ctx, id, args[1])
		})
	},
}

var moveCmd = &cobra.Command{
	Use:   "move <chat-id> <folder-id>",
	Short: "Move a chat into a folder (0 removes it from its folder)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		chatID, err := parseID(args[0])
		if err != nil {
			return err
		}
		folderID, err := parseID(args[1])
		if err != nil {
			return err
		}
		return run(func(ctx context.Context, c *client.Client) error {
			return c.MoveToFolder(ctx, chatID, folderID)
		})
	},
}

var readCmd = &cobra.Command{
	Use:   "read <chat-id>",
	Short: "Mark a chat as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return run(func(ctx context.Context, c *client.Client) error {
			sent, err := c.MarkRead(ctx, id)
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(api.MarkReadResponse{Sent: sent})
			}
			return nil
		})
	},
}

var joinCmd = &cobra.Command{
	Use:   "join <invite-code>",
	Short: "Join a group by invite code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(func(ctx context.Context, c *client.Client) error {
			chat, err := c.JoinByInviteCode(ctx, args[0])
			if err != nil {
				return err
			}
			printChats([]api.Chat{chat})
			return nil
		})
	},
}

var inviteCmd = &cobra.Command{
	Use:   "invite <chat-id>",
	Short: "Create an invite link for a group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return run(func(ctx context.Context, c *client.Client) error {
			inv, err := c.CreateInviteLink(ctx, id, inviteUses, inviteExpires)
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(inv)
				return nil
			}
			fmt.Println(inv.Code)
			return nil
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print the chat list every time it changes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		err = c.WatchChats(ctx, api.ListChatsRequest{FolderID: chatsFolder, IncludeHidden: chatsHidden}, func(chats []api.Chat) error {
			if !jsonOutput {
				fmt.Printf("-- %s\n", time.Now().Format(time.TimeOnly))
			}
			printChats(chats)
			return nil
		})
		if ctx.Err() != nil {
			return nil
		}
		return err
	},
}

func init() {
	for _, cmd := range []*cobra.Command{chatsCmd, watchCmd} {
		cmd.Flags().Int64Var(&chatsFolder, "folder", 0, "only chats in this folder")
		cmd.Flags().BoolVar(&chatsHidden, "hidden", false, "include hidden chats")
	}
	inviteCmd.Flags().IntVar(&inviteUses, "uses", 0, "maximum number of joins (0 = unlimited)")
	inviteCmd.Flags().DurationVar(&inviteExpires, "expires", 0, "link lifetime (0 = never)")

	rootCmd.AddCommand(
		chatsCmd, chatCmd, watchCmd, readCmd, muteCmd, moveCmd, joinCmd, inviteCmd,
		chatActionCmd("unmute", "Unmute a chat", "Unmute"),
		chatActionCmd("pin", "Pin a chat", "Pin"),
		chatActionCmd("unpin", "Unpin a chat", "Unpin"),
		chatActionCmd("hide", "Hide a chat on this device", "Hide"),
		chatActionCmd("unhide", "Show a hidden chat again", "Unhide"),
		chatActionCmd("delete", "Delete a chat", "DeleteChat"),
		chatActionCmd("clear", "Delete every message of a chat", "ClearChatMessages"),
		chatActionCmd("leave", "Leave a group", "LeaveGroup"),
	)
}
