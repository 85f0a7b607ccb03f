// Package app wires nexus's components into one running daemon: the
// cluster session layer, the router and remote dispatcher, the module
// installation manager and supervisor, and the telemetry provider. It
// mirrors the teacher's own cmd-delegates-to-app split, generalized from
// aggregator/MCP-server bootstrap to this system's dispatch/module
// bootstrap.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/creativeprojects/go-selfupdate"
	"github.com/prometheus/client_golang/prometheus"

	"nexus/internal/addressing"
	"nexus/internal/api"
	"nexus/internal/config"
	"nexus/internal/coordination"
	"nexus/internal/dispatch"
	"nexus/internal/events"
	"nexus/internal/installer"
	"nexus/internal/module"
	"nexus/internal/pathmap"
	"nexus/internal/remote"
	"nexus/internal/router"
	"nexus/internal/supervisor"
	"nexus/internal/telemetry"
	"nexus/internal/transport"
	"nexus/pkg/logging"
)

const subsystem = "App"

// routerAppID is the internal/transport application id the Router's
// routing-table traffic travels under; DispatchAppID (1) is reserved for
// the Remote Dispatcher's own request/response frames.
const routerAppID uint32 = 2

// reconcileInterval is how often the daemon re-runs the Planner and
// reconciles the installation set against its result, independent of any
// push-triggered reconcile a future config-change watcher might add.
const reconcileInterval = 30 * time.Second

// Config holds the command-line-level settings cmd/serve.go collects.
type Config struct {
	Debug      bool
	ConfigPath string
}

// NewConfig builds a Config from the serve command's flags.
func NewConfig(debug bool, configPath string) Config {
	return Config{Debug: debug, ConfigPath: configPath}
}

// Application owns every long-lived component of a running nexus daemon.
type Application struct {
	cfg config.NexusConfig

	transport  *transport.Transport
	owner      *coordination.Owner
	installMgr *installer.Manager
	planner    *module.Planner
	telemetryP *telemetry.Provider
}

// NewApplication loads configuration and wires every component. Network
// listeners and background loops are not started until Run.
func NewApplication(cfg Config) (*Application, error) {
	configPath := cfg.ConfigPath
	if configPath == "" {
		configPath = config.GetDefaultConfigPathOrPanic()
	}
	nc, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("app: loading configuration: %w", err)
	}

	level := logging.LevelInfo
	if cfg.Debug {
		level = logging.LevelDebug
	}
	logging.InitForCLI(level, os.Stdout)

	storage, err := coordination.NewStorageFromConfig(nc.Coordination)
	if err != nil {
		return nil, fmt.Errorf("app: building coordination storage: %w", err)
	}
	coordManager := coordination.NewManager(storage, nc.Coordination.RenewInterval)

	self := addressing.PhysicalAddressFromString(selfAddress(nc))
	owner := coordination.NewOwner(coordManager, self, nc.Coordination.LeaseDuration)

	t := transport.New(nc.Transport.ListenAddr, nc.Transport.DialTimeout, nc.Transport.FrameMaxSize)
	rtr := router.NewRouter(coordManager, transport.Bind(t, routerAppID))

	registry := dispatch.NewRegistry()
	pipeline := dispatch.NewPipeline()
	localDispatcher := dispatch.NewDispatcher(registry, pipeline)

	remoteDispatcher := remote.New(localDispatcher, rtr, t, registry, self, 10*time.Second)

	metrics := prometheus.NewRegistry()

	pathMap := pathmap.New()
	api.RegisterPathMapHandler(pathMapAdapter{pathMap})
	api.RegisterDispatcherHandler(dispatcherAdapter{remoteDispatcher})

	publisher := events.NewPublisher()
	sink := events.NewSupervisorSink(publisher)

	source := selfupdate.NewGitHubSource(selfupdate.GitHubConfig{})
	repos := make(map[module.Identifier]string, len(nc.Modules.Repositories))
	for id, slug := range nc.Modules.Repositories {
		repos[module.Identifier(id)] = slug
	}
	catalog := module.NewCatalog(source, repos)
	planner := module.NewPlanner(catalog)
	fetcher := module.NewFetcher(catalog)

	newSup := func(release module.ReleaseIdentifier, meta module.Metadata, dir string) installer.Supervisor {
		return supervisor.New(release, meta, dir, sink)
	}
	installMgr := installer.NewManager(nc.Installer.InstallRoot, fetcher, newSup, metrics)
	api.RegisterInstallerHandler(installerAdapter{installMgr})

	telemetryP, err := telemetry.Setup(context.Background(), nc.Telemetry, metrics)
	if err != nil {
		return nil, fmt.Errorf("app: setting up telemetry: %w", err)
	}

	return &Application{
		cfg:        nc,
		transport:  t,
		owner:      owner,
		installMgr: installMgr,
		planner:    planner,
		telemetryP: telemetryP,
	}, nil
}

// Run starts the transport listener and session ownership, adopts any
// pre-existing module installations, and reconciles the installation set
// against the Planner's output on reconcileInterval until ctx is
// cancelled or the session's lease is lost out from under it.
func (a *Application) Run(ctx context.Context) error {
	if err := a.transport.Start(ctx); err != nil {
		return fmt.Errorf("app: starting transport: %w", err)
	}
	defer a.transport.Stop()

	terminated := make(chan struct{}, 1)
	a.owner.OnTerminated(func() {
		select {
		case terminated <- struct{}{}:
		default:
		}
	})
	if _, err := a.owner.Begin(ctx); err != nil {
		return fmt.Errorf("app: beginning session: %w", err)
	}
	defer func() {
		disposeCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Supervisor.StopGracePeriod)
		defer cancel()
		if err := a.owner.Dispose(disposeCtx); err != nil {
			logging.Warn(subsystem, "disposing session: %v", err)
		}
		if err := a.telemetryP.Shutdown(disposeCtx); err != nil {
			logging.Warn(subsystem, "shutting down telemetry: %v", err)
		}
	}()

	if err := a.adopt(ctx); err != nil {
		logging.Warn(subsystem, "adopting existing installations: %v", err)
	}
	if err := a.reconcile(ctx); err != nil {
		logging.Warn(subsystem, "initial reconcile: %v", err)
	}

	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()

	logging.Info(subsystem, "nexus daemon running, session %s", a.owner.Session().String())

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-terminated:
			return fmt.Errorf("app: session lease lost")
		case <-ticker.C:
			if err := a.reconcile(ctx); err != nil {
				logging.Warn(subsystem, "reconcile: %v", err)
			}
		}
	}
}

func (a *Application) adopt(ctx context.Context) error {
	desired, err := a.desiredSet(ctx)
	if err != nil {
		return err
	}
	return a.installMgr.Adopt(ctx, desired, module.LoadManifest)
}

func (a *Application) reconcile(ctx context.Context) error {
	resolved, err := a.desiredSet(ctx)
	if err != nil {
		return err
	}
	return a.installMgr.ConfigureInstallationSet(ctx, resolved)
}

func (a *Application) desiredSet(ctx context.Context) (module.ResolvedInstallationSet, error) {
	desired := make(module.UnresolvedInstallationSet, len(a.cfg.Modules.Desired))
	for id, constraint := range a.cfg.Modules.Desired {
		rng, err := module.ParseVersionRange(constraint)
		if err != nil {
			return module.ResolvedInstallationSet{}, fmt.Errorf("app: module %q: %w", id, err)
		}
		desired[module.Identifier(id)] = rng
	}
	if len(desired) == 0 {
		return module.NewResolvedInstallationSet(nil), nil
	}

	resolved, ok, err := a.planner.Plan(ctx, desired)
	if err != nil {
		return module.ResolvedInstallationSet{}, fmt.Errorf("app: planning installation set: %w", err)
	}
	if !ok {
		if err := events.NewPublisher().Publish(events.InstallationSetConflictEvent{Desired: desired}); err != nil {
			logging.Warn(subsystem, "publishing conflict event: %v", err)
		}
		return a.installMgr.Current(), fmt.Errorf("app: no consistent installation set satisfies configured modules")
	}
	return resolved, nil
}

func selfAddress(nc config.NexusConfig) string {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return fmt.Sprintf("%s|%s", host, nc.Transport.ListenAddr)
}

// dispatcherAdapter satisfies api.DispatcherHandler by wrapping event
// publishes as a local, non-targeted dispatch.Data publish.
type dispatcherAdapter struct {
	remote *remote.Dispatcher
}

func (d dispatcherAdapter) Publish(data interface{}) error {
	envelope, err := dispatch.NewData(data, nil)
	if err != nil {
		return fmt.Errorf("app: building event envelope: %w", err)
	}
	result := d.remote.Dispatch(context.Background(), envelope, addressing.Unknown, true)
	if result == dispatch.NotDispatched {
		return nil // no subscriber registered for this event type; not an error
	}
	if !result.IsSuccess() {
		return fmt.Errorf("app: publishing event: %s", result.Message())
	}
	return nil
}

// pathMapAdapter satisfies api.PathMapHandler over *pathmap.Map's typed
// addressing.EndPointAddress return value.
type pathMapAdapter struct {
	m *pathmap.Map
}

func (p pathMapAdapter) Resolve(path string) (string, bool) {
	endPoint, ok := p.m.Resolve(path)
	if !ok {
		return "", false
	}
	return endPoint.String(), true
}

// installerAdapter satisfies api.InstallerHandler over
// *installer.Manager's StatusEntry read model.
type installerAdapter struct {
	m *installer.Manager
}

func (i installerAdapter) Status() []api.ModuleStatus {
	entries := i.m.Status()
	statuses := make([]api.ModuleStatus, 0, len(entries))
	for _, e := range entries {
		statuses = append(statuses, api.ModuleStatus{
			Module:  string(e.Release.Module),
			Version: e.Release.Version.String(),
			State:   e.State.String(),
		})
	}
	return statuses
}
