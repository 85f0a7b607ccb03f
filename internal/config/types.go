package config

import "time"

// NexusConfig is the top-level configuration structure for the nexus daemon.
type NexusConfig struct {
	Coordination CoordinationConfig `yaml:"coordination"`
	Router       RouterConfig       `yaml:"router"`
	Transport    TransportConfig    `yaml:"transport"`
	Installer    InstallerConfig    `yaml:"installer"`
	Supervisor   SupervisorConfig   `yaml:"supervisor"`
	Telemetry    TelemetryConfig    `yaml:"telemetry,omitempty"`
	Modules      ModulesConfig      `yaml:"modules,omitempty"`
}

// CoordinationBackend selects the storage used by the session manager (B).
type CoordinationBackend string

const (
	// CoordinationBackendAuto probes for an in-cluster Kubernetes API and
	// falls back to the in-memory backend when none is reachable,
	// mirroring the dual-mode detection the teacher uses for its reconciler.
	CoordinationBackendAuto CoordinationBackend = "auto"
	// CoordinationBackendLease backs sessions with coordination/v1.Lease objects.
	CoordinationBackendLease CoordinationBackend = "lease"
	// CoordinationBackendMemory backs sessions with an in-process map, for
	// single-process deployments and tests.
	CoordinationBackendMemory CoordinationBackend = "memory"
)

// CoordinationConfig configures the Cluster Session & Coordination Layer (B, C).
type CoordinationConfig struct {
	Backend        CoordinationBackend `yaml:"backend,omitempty"`
	Namespace      string              `yaml:"namespace,omitempty"`
	LeaseDuration  time.Duration       `yaml:"leaseDuration,omitempty"`
	RenewInterval  time.Duration       `yaml:"renewInterval,omitempty"`
	OwnerGraceWait time.Duration       `yaml:"ownerGraceWait,omitempty"`
}

// RouterConfig configures the End-point Router (D).
type RouterConfig struct {
	ResolveTimeout time.Duration `yaml:"resolveTimeout,omitempty"`
}

// TransportConfig configures the Physical Transport (E) used by the Remote
// Dispatcher (J) to carry envelopes between nexus processes.
type TransportConfig struct {
	ListenAddr   string        `yaml:"listenAddr,omitempty"`
	DialTimeout  time.Duration `yaml:"dialTimeout,omitempty"`
	FrameMaxSize int           `yaml:"frameMaxSize,omitempty"`
}

// InstallerConfig configures the Module Installation Manager (K).
type InstallerConfig struct {
	InstallRoot      string        `yaml:"installRoot,omitempty"`
	WorkerCount      int           `yaml:"workerCount,omitempty"`
	MaxRetries       int           `yaml:"maxRetries,omitempty"`
	InitialBackoff   time.Duration `yaml:"initialBackoff,omitempty"`
	MaxBackoff       time.Duration `yaml:"maxBackoff,omitempty"`
	DebounceInterval time.Duration `yaml:"debounceInterval,omitempty"`
	ReconcileTimeout time.Duration `yaml:"reconcileTimeout,omitempty"`
}

// SupervisorConfig configures the Module Supervisor (L).
type SupervisorConfig struct {
	StopGracePeriod time.Duration `yaml:"stopGracePeriod,omitempty"`
	RestartBackoff  time.Duration `yaml:"restartBackoff,omitempty"`
	SystemdWatchdog bool          `yaml:"systemdWatchdog,omitempty"`
}

// TelemetryConfig configures optional tracing/metrics export.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlpEndpoint,omitempty"`
	MetricsAddr  string `yaml:"metricsAddr,omitempty"`
	StdoutTraces bool   `yaml:"stdoutTraces,omitempty"`
	ServiceName  string `yaml:"serviceName,omitempty"`
}

// ModulesConfig configures the Planner's (M) desired installation set and
// the repositories its Catalog resolves module identifiers against.
type ModulesConfig struct {
	// Repositories maps a module id to the "owner/repo" slug its releases
	// are published under.
	Repositories map[string]string `yaml:"repositories,omitempty"`
	// Desired maps a module id to the version constraint
	// (">=1.0.0"/"==2.1.0"/"1.0.0") the Planner resolves against.
	Desired map[string]string `yaml:"desired,omitempty"`
}
