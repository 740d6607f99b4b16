package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/session"
)

type sessionInfo struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Running bool   `json:"running"`
	PID     int    `json:"pid,omitempty"`
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List known sessions and whether their daemon runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := session.List()
		if err != nil {
			return err
		}
		infos := make([]sessionInfo, 0, len(names))
		for _, name := range names {
			info := sessionInfo{Name: name, Path: session.Dir(name)}
			held, err := lock.Probe(info.Path)
			if err != nil {
				return err
			}
			if held != nil {
				info.Running, info.PID = true, held.PID
			}
			infos = append(infos, info)
		}

		if jsonOutput {
			outputJSON(infos)
			return nil
		}
		if len(infos) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}
		for _, s := range infos {
			state := "stopped"
			if s.Running {
				state = fmt.Sprintf("running, pid %d", s.PID)
			}
			fmt.Printf("%-20s %s (%s)\n", s.Name, s.Path, state)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
}
