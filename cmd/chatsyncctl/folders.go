package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/client"
)

var (
	foldersReload bool

	folderIcon        string
	folderContacts    bool
	folderNonContacts bool
	folderGroups      bool
)

func printFolders(folders []api.Folder) {
	if jsonOutput {
		outputJSON(api.FolderList{Folders: folders})
		return
	}
	if len(folders) == 0 {
		fmt.Println("No folders.")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPOS\tNAME\tCHATS")
	for _, f := range folders {
		fmt.Fprintf(w, "%d\t%d\t%s %s\t%d\n", f.ID, f.Position, f.Icon, f.Name, f.ChatCount)
	}
	_ = w.Flush()
}

var foldersCmd = &cobra.Command{
	Use:   "folders",
	Short: "List and manage chat folders",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(func(ctx context.Context, c *client.Client) error {
			folders, err := c.Folders(ctx, foldersReload)
			if err != nil {
				return err
			}
			printFolders(folders)
			return nil
		})
	},
}

var folderCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(func(ctx context.Context, c *client.Client) error {
			f, err := c.CreateFolder(ctx, api.Folder{
				Name:               args[0],
				Icon:               folderIcon,
				IncludeContacts:    folderContacts,
				IncludeNonContacts: folderNonContacts,
				IncludeGroups:      folderGroups,
			})
			if err != nil {
				return err
			}
			printFolders([]api.Folder{f})
			return nil
		})
	},
}

var folderRenameCmd = &cobra.Command{
	Use:   "rename <folder-id> <name>",
	Short: "Rename a folder",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return run(func(ctx context.Context, c *client.Client) error {
			folders, err := c.Folders(ctx, false)
			if err != nil {
				return err
			}
			for _, f := range folders {
				if f.ID != id {
					continue
				}
				f.Name = args[1]
				_, err := c.UpdateFolder(ctx, f)
				return err
			}
			return fmt.Errorf("folder %d not found", id)
		})
	},
}

var folderDeleteCmd = &cobra.Command{
	Use:   "delete <folder-id>",
	Short: "Delete a folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return run(func(ctx context.Context, c *client.Client) error {
			return c.DeleteFolder(ctx, id)
		})
	},
}

var folderReorderCmd = &cobra.Command{
	Use:   "reorder <folder-id>=<position>...",
	Short: "Set folder positions",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		positions := make(map[int64]int, len(args))
		for _, arg := range args {
			idStr, posStr, ok := strings.Cut(arg, "=")
			if !ok {
				return fmt.Errorf("expected <folder-id>=<position>, got %q", arg)
			}
			id, err := parseID(idStr)
			if err != nil {
				return err
			}
			pos, err := strconv.Atoi(posStr)
			if err != nil {
				return fmt.Errorf("invalid position %q", posStr)
			}
			positions[id] = pos
		}
		return run(func(ctx context.Context, c *client.Client) error {
			return c.ReorderFolders(ctx, positions)
		})
	},
}

var folderAddCmd = &cobra.Command{
	Use:   "add <folder-id> <chat-id>...",
	Short: "Include chats in a folder",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		folderID, err := parseID(args[0])
		if err != nil {
			return err
		}
		chatIDs := make([]int64, 0, len(args)-1)
		for _, a := range args[1:] {
			id, err := parseID(a)
			if err != nil {
				return err
			}
			chatIDs = append(chatIDs, id)
		}
		return run(func(ctx context.Context, c *client.Client) error {
			return c.AddChatsToFolder(ctx, folderID, chatIDs)
		})
	},
}

var folderRemoveCmd = &cobra.Command{
	Use:   "remove <folder-id> <chat-id>",
	Short: "Exclude a chat from a folder",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		folderID, err := parseID(args[0])
		if err != nil {
			return err
		}
		chatID, err := parseID(args[1])
		if err != nil {
			return err
		}
		return run(func(ctx context.Context, c *client.Client) error {
			return c.RemoveChatFromFolder(ctx, folderID, chatID)
		})
	},
}

func init() {
	foldersCmd.Flags().BoolVar(&foldersReload, "reload", false, "reload folders from the server first")
	folderCreateCmd.Flags().StringVar(&folderIcon, "icon", "", "folder icon")
	folderCreateCmd.Flags().BoolVar(&folderContacts, "contacts", false, "include private chats with contacts")
	folderCreateCmd.Flags().BoolVar(&folderNonContacts, "non-contacts", false, "include private chats with non-contacts")
	folderCreateCmd.Flags().BoolVar(&folderGroups, "groups", false, "include groups")

	foldersCmd.AddCommand(folderCreateCmd, folderRenameCmd, folderDeleteCmd, folderReorderCmd, folderAddCmd, folderRemoveCmd)
	rootCmd.AddCommand(foldersCmd)
}
