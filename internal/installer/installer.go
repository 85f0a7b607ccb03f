// Package installer implements the Module Installation Manager (K): it
// reconciles a resolved installation set against the set of currently
// running module supervisors, starting and stopping supervisors
// concurrently across modules but sequentially per module, per
// spec.md §4.9.
package installer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"nexus/internal/module"
	"nexus/pkg/logging"
)

const subsystem = "Installer"

// Fetcher downloads and extracts a release's package into dir, returning
// its parsed metadata. internal/module/fetch.go's go-selfupdate-backed
// implementation satisfies this.
type Fetcher interface {
	Fetch(ctx context.Context, release module.ReleaseIdentifier, dir string) (module.Metadata, error)
}

// Supervisor is the subset of *supervisor.Supervisor the manager drives.
type Supervisor interface {
	Start(ctx context.Context) error
	Dispose(ctx context.Context) error
	State() module.SupervisorState
}

// StatusEntry reports one running release's current supervisor state, for
// the Status command and the internal/api.InstallerHandler adapter.
type StatusEntry struct {
	Release module.ReleaseIdentifier
	State   module.SupervisorState
}

// SupervisorFactory builds a Supervisor for a release already extracted
// into dir with the given metadata.
type SupervisorFactory func(release module.ReleaseIdentifier, meta module.Metadata, dir string) Supervisor

// supervisedEntry tracks one running supervisor's bookkeeping.
type supervisedEntry struct {
	supervisor Supervisor
	dir        string
}

// Manager is the Module Installation Manager (K).
type Manager struct {
	installRoot string
	fetcher     Fetcher
	newSup      SupervisorFactory

	reconcileMu sync.Mutex // single reentrant-in-spirit lock serializing reconciliation

	mu       sync.RWMutex
	running  map[module.ReleaseIdentifier]*supervisedEntry
	metadata map[module.ReleaseIdentifier]module.Metadata

	metricQueueDepth     prometheus.Gauge
	metricReconcileTotal *prometheus.CounterVec
}

// NewManager builds a Manager rooted at installRoot (one subdirectory per
// release, named by ReleaseIdentifier.String()).
func NewManager(installRoot string, fetcher Fetcher, newSup SupervisorFactory, registerer prometheus.Registerer) *Manager {
	m := &Manager{
		installRoot: installRoot,
		fetcher:     fetcher,
		newSup:      newSup,
		running:     make(map[module.ReleaseIdentifier]*supervisedEntry),
		metadata:    make(map[module.ReleaseIdentifier]module.Metadata),
		metricQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nexus",
			Subsystem: "installer",
			Name:      "pending_reconcile_operations",
			Help:      "Number of start/stop operations in the current reconciliation pass.",
		}),
		metricReconcileTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nexus",
			Subsystem: "installer",
			Name:      "reconcile_operations_total",
			Help:      "Count of install/uninstall operations by outcome.",
		}, []string{"operation", "outcome"}),
	}
	if registerer != nil {
		registerer.MustRegister(m.metricQueueDepth, m.metricReconcileTotal)
	}
	return m
}

// Adopt scans installRoot on startup and adopts any pre-existing install
// directory whose name matches a release in resolved, building a
// supervisor for it without re-downloading; directories that match
// nothing in resolved are deleted, per spec.md §4.9's startup behavior.
func (m *Manager) Adopt(ctx context.Context, resolved module.ResolvedInstallationSet, loadMeta func(dir string) (module.Metadata, error)) error {
	entries, err := os.ReadDir(m.installRoot)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("installer: reading install root: %w", err)
	}

	desired := make(map[string]module.ReleaseIdentifier)
	for _, r := range resolved.Releases() {
		desired[r.String()] = r
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(m.installRoot, entry.Name())
		release, ok := desired[entry.Name()]
		if !ok {
			logging.Info(subsystem, "removing stale install directory %s", entry.Name())
			_ = os.RemoveAll(dir)
			continue
		}

		meta, err := loadMeta(dir)
		if err != nil {
			logging.Warn(subsystem, "adopting %s: loading metadata: %v, removing directory", release, err)
			_ = os.RemoveAll(dir)
			continue
		}

		sup := m.newSup(release, meta, dir)
		if err := sup.Start(ctx); err != nil {
			logging.Warn(subsystem, "adopting %s: starting supervisor: %v", release, err)
			continue
		}

		m.mu.Lock()
		m.running[release] = &supervisedEntry{supervisor: sup, dir: dir}
		m.metadata[release] = meta
		m.mu.Unlock()
		logging.Info(subsystem, "adopted pre-existing install %s", release)
	}
	return nil
}

// Current returns the releases currently supervised.
func (m *Manager) Current() module.ResolvedInstallationSet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	releases := make([]module.ReleaseIdentifier, 0, len(m.running))
	for r := range m.running {
		releases = append(releases, r)
	}
	return module.NewResolvedInstallationSet(releases)
}

// Status reports every currently supervised release's supervisor state.
func (m *Manager) Status() []StatusEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]StatusEntry, 0, len(m.running))
	for release, entry := range m.running {
		entries = append(entries, StatusEntry{Release: release, State: entry.supervisor.State()})
	}
	return entries
}

// ConfigureInstallationSet reconciles resolved against the currently
// supervised set: disposes of releases no longer wanted and starts
// releases newly wanted, both phases running concurrently across
// modules but sequentially per module (errgroup fan-out, one goroutine
// per release). Reconciliation is idempotent: calling it twice with the
// same resolved set is a no-op the second time, per spec.md §8 invariant 8.
func (m *Manager) ConfigureInstallationSet(ctx context.Context, resolved module.ResolvedInstallationSet) error {
	m.reconcileMu.Lock()
	defer m.reconcileMu.Unlock()

	current := m.Current()
	toStart, toStop := module.Diff(current, resolved)
	m.metricQueueDepth.Set(float64(len(toStart) + len(toStop)))
	defer m.metricQueueDepth.Set(0)

	group, groupCtx := errgroup.WithContext(ctx)
	for _, release := range toStop {
		release := release
		group.Go(func() error {
			m.stopOne(groupCtx, release)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	group, groupCtx = errgroup.WithContext(ctx)
	for _, release := range toStart {
		release := release
		group.Go(func() error {
			return m.startOne(groupCtx, release)
		})
	}
	return group.Wait()
}

func (m *Manager) stopOne(ctx context.Context, release module.ReleaseIdentifier) {
	m.mu.Lock()
	entry, ok := m.running[release]
	if ok {
		delete(m.running, release)
		delete(m.metadata, release)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	if err := entry.supervisor.Dispose(ctx); err != nil {
		logging.Error(subsystem, err, "disposing supervisor for %s", release)
		m.metricReconcileTotal.WithLabelValues("stop", "error").Inc()
	} else {
		m.metricReconcileTotal.WithLabelValues("stop", "success").Inc()
	}

	if err := removeDirWithRetry(entry.dir, 3); err != nil {
		logging.Error(subsystem, err, "removing install directory for %s", release)
	}
}

func (m *Manager) startOne(ctx context.Context, release module.ReleaseIdentifier) error {
	dir := filepath.Join(m.installRoot, release.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		m.metricReconcileTotal.WithLabelValues("start", "error").Inc()
		return fmt.Errorf("installer: creating install directory for %s: %w", release, err)
	}

	meta, err := m.fetcher.Fetch(ctx, release, dir)
	if err != nil {
		m.metricReconcileTotal.WithLabelValues("start", "error").Inc()
		_ = os.RemoveAll(dir)
		return fmt.Errorf("installer: fetching %s: %w", release, err)
	}

	sup := m.newSup(release, meta, dir)
	if err := sup.Start(ctx); err != nil {
		m.metricReconcileTotal.WithLabelValues("start", "error").Inc()
		_ = os.RemoveAll(dir)
		return fmt.Errorf("installer: starting supervisor for %s: %w", release, err)
	}

	m.mu.Lock()
	m.running[release] = &supervisedEntry{supervisor: sup, dir: dir}
	m.metadata[release] = meta
	m.mu.Unlock()
	m.metricReconcileTotal.WithLabelValues("start", "success").Inc()
	return nil
}

func removeDirWithRetry(dir string, attempts int) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = os.RemoveAll(dir); err == nil {
			return nil
		}
		time.Sleep(time.Duration(i+1) * 50 * time.Millisecond)
	}
	return err
}
