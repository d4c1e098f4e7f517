package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var errNoStore = errors.New("session store is disabled (store.enabled: false)")

// sessionsCmd manages stored sessions
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List stored sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		if db == nil {
			return errNoStore
		}
		list, err := db.Sessions(50)
		if err != nil {
			return fmt.Errorf("failed to list sessions: %w", err)
		}
		if len(list) == 0 {
			fmt.Println("No saved sessions found.")
			return nil
		}
		fmt.Println(strings.Repeat("─", 60))
		for _, s := range list {
			fmt.Printf("  %s  %-16s  %s\n", s.ID, s.Name, s.UpdatedAt.Format("2006-01-02 15:04"))
		}
		fmt.Println(strings.Repeat("─", 60))
		fmt.Printf("Total: %d sessions\n", len(list))
		return nil
	},
}

// sessionsDeleteCmd removes a stored session
var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a stored session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if db == nil {
			return errNoStore
		}
		if err := db.Delete(args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted %s\n", args[0])
		return nil
	},
}

func init() {
	sessionsCmd.AddCommand(sessionsDeleteCmd)
}
