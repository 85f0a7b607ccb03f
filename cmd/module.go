package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"nexus/internal/config"
	"nexus/internal/module"
	pkgstrings "nexus/pkg/strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// moduleCmd groups module installation introspection commands. These read
// the daemon's install root directly rather than querying a running
// process, since a module's on-disk module.json (written by the Fetcher)
// is the durable record of what's installed.
var moduleCmd = &cobra.Command{
	Use:   "module",
	Short: "Inspect installed modules",
}

var moduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List modules present in the install root",
	Args:  cobra.NoArgs,
	RunE:  runModuleList,
}

func runModuleList(cmd *cobra.Command, args []string) error {
	root, err := installRoot()
	if err != nil {
		return err
	}

	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		entries = nil
	} else if err != nil {
		return fmt.Errorf("reading install root: %w", err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Module", "Version", "Description", "Entry Command", "Directory"})
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		meta, err := module.LoadManifest(dir)
		if err != nil {
			t.AppendRow(table.Row{entry.Name(), "?", "?", "?", dir})
			continue
		}
		description := pkgstrings.TruncateDescription(meta.Description, pkgstrings.DefaultDescriptionMaxLen)
		t.AppendRow(table.Row{meta.Module, meta.Version.String(), description, meta.EntryCommand, dir})
	}
	t.Render()
	return nil
}

var moduleUninstallCmd = &cobra.Command{
	Use:   "uninstall <module>@<version>",
	Short: "Remove an installed module's directory from the install root",
	Long: `Removes the on-disk install directory for the named release.

This is a local, unsupervised removal: it does not stop a running
supervisor for the release, and does not update the daemon's configured
desired installation set. Prefer removing the module from configuration
and letting the running daemon's reconciliation stop and clean it up.`,
	Args: cobra.ExactArgs(1),
	RunE: runModuleUninstall,
}

func runModuleUninstall(cmd *cobra.Command, args []string) error {
	root, err := installRoot()
	if err != nil {
		return err
	}
	dir := filepath.Join(root, args[0])
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("install directory for %s not found: %w", args[0], err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing %s: %w", dir, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", dir)
	return nil
}

func installRoot() (string, error) {
	path := nexusConfigPath
	if path == "" {
		path = config.GetDefaultConfigPathOrPanic()
	}
	nc, err := config.LoadConfig(path)
	if err != nil {
		return "", fmt.Errorf("loading configuration: %w", err)
	}
	return nc.Installer.InstallRoot, nil
}

func init() {
	moduleCmd.AddCommand(moduleListCmd)
	moduleCmd.AddCommand(moduleUninstallCmd)
}
