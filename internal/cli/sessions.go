package cli

import (
	"fmt"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/drover-ai/drover/internal/config"
	"github.com/drover-ai/drover/internal/session"
)

var sessionsAll bool

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and manage session groups",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List session groups with token counts",
	RunE:  runSessionsList,
}

var sessionsRotateCmd = &cobra.Command{
	Use:   "rotate [group]",
	Short: "Force-rotate a session group",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsRotate,
}

func init() {
	sessionsListCmd.Flags().BoolVarP(&sessionsAll, "all", "a", false, "Include archived history")
	sessionsCmd.AddCommand(sessionsListCmd, sessionsRotateCmd)
}

func openStore() (*session.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return session.NewStore(filepath.Join(cfg.Paths.StateDir, "sessions.json")), nil
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	var entries []session.Entry
	if sessionsAll {
		entries = store.ListAll()
	} else {
		entries = store.ListLive()
	}
	if len(entries) == 0 {
		fmt.Println("no sessions")
		return nil
	}

	for _, e := range entries {
		status := color.GreenString(string(e.Status))
		if e.Status == session.StatusArchived {
			status = color.YellowString(string(e.Status))
		}
		fmt.Printf("%-20s %-9s %8d tokens  session=%s  last used %s\n",
			e.Group, status, e.ContentTokens, e.SessionID,
			e.LastUsedAt.Format("2006-01-02 15:04"))
		if e.Summary != "" {
			fmt.Printf("%-20s %s\n", "", e.Summary)
		}
	}
	return nil
}

func runSessionsRotate(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	group := args[0]
	sessionID, ok := store.Archive(group, "force-rotated via cli")
	if !ok {
		fmt.Printf("no live session for group %q\n", group)
		return nil
	}
	fmt.Printf("rotated %s (old session %s)\n", group, sessionID)
	return nil
}
