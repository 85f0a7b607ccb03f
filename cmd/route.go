package cmd

import (
	"context"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// routeCmd groups end-point routing table introspection commands.
var routeCmd = &cobra.Command{
	Use:   "route",
	Short: "Inspect registered end-point routes",
}

var routeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List live end-point routes across all cluster sessions",
	Args:  cobra.NoArgs,
	RunE:  runRouteList,
}

func runRouteList(cmd *cobra.Command, args []string) error {
	r, err := loadRouter()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	snapshot, err := r.Snapshot(ctx)
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"End-point", "Physical Address", "Session"})
	for _, entry := range snapshot {
		t.AppendRow(table.Row{entry.EndPoint.String(), entry.Physical.String(), entry.Session.String()})
	}
	t.Render()
	return nil
}

func init() {
	routeCmd.AddCommand(routeListCmd)
}
