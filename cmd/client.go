package cmd

import (
	"fmt"

	"nexus/internal/config"
	"nexus/internal/coordination"
	"nexus/internal/router"
)

// nexusConfigPath is shared by every admin subcommand that needs to read
// the same configuration file a running daemon was started with.
var nexusConfigPath string

// loadCoordinationManager builds a short-lived Manager over the same
// coordination storage backend the daemon uses, for read-only admin
// commands (session list, route list) that inspect cluster-wide state
// without going through a running process's in-memory registries.
func loadCoordinationManager() (*coordination.Manager, error) {
	path := nexusConfigPath
	if path == "" {
		path = config.GetDefaultConfigPathOrPanic()
	}
	nc, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	storage, err := coordination.NewStorageFromConfig(nc.Coordination)
	if err != nil {
		return nil, fmt.Errorf("building coordination storage: %w", err)
	}
	return coordination.NewManager(storage, nc.Coordination.RenewInterval), nil
}

// loadRouter builds a short-lived Router over the same coordination
// manager, for read-only route introspection (route list). Its
// transport is left nil: route listing only calls Snapshot, never Send
// or Broadcast, so there is nothing to deliver to from a one-shot CLI
// invocation.
func loadRouter() (*router.Router, error) {
	manager, err := loadCoordinationManager()
	if err != nil {
		return nil, err
	}
	return router.NewRouter(manager, nil), nil
}
