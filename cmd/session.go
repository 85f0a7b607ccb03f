package cmd

import (
	"context"
	"os"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// sessionCmd groups cluster session introspection commands.
var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect cluster sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List live cluster sessions",
	Args:  cobra.NoArgs,
	RunE:  runSessionList,
}

func runSessionList(cmd *cobra.Command, args []string) error {
	manager, err := loadCoordinationManager()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	sessions, err := manager.ListSessions(ctx)
	if err != nil {
		return err
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID() < sessions[j].ID() })

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Session", "Physical Address", "Alive"})
	for _, session := range sessions {
		alive, err := manager.IsAlive(ctx, session)
		if err != nil {
			alive = false
		}
		t.AppendRow(table.Row{session.String(), session.PhysicalAddress.String(), alive})
	}
	t.Render()
	return nil
}

func init() {
	sessionCmd.AddCommand(sessionListCmd)
}
