package config

import "time"

// GetDefaultConfig returns the configuration used when no config.yaml is
// present, or to fill unset fields after loading one.
func GetDefaultConfig() NexusConfig {
	return NexusConfig{
		Coordination: CoordinationConfig{
			Backend:        CoordinationBackendAuto,
			Namespace:      "default",
			LeaseDuration:  30 * time.Second,
			RenewInterval:  10 * time.Second,
			OwnerGraceWait: 5 * time.Second,
		},
		Router: RouterConfig{
			ResolveTimeout: 5 * time.Second,
		},
		Transport: TransportConfig{
			ListenAddr:   "127.0.0.1:9631",
			DialTimeout:  5 * time.Second,
			FrameMaxSize: 4 << 20,
		},
		Installer: InstallerConfig{
			InstallRoot:      defaultInstallRoot(),
			WorkerCount:      4,
			MaxRetries:       5,
			InitialBackoff:   time.Second,
			MaxBackoff:       2 * time.Minute,
			DebounceInterval: 250 * time.Millisecond,
			ReconcileTimeout: 2 * time.Minute,
		},
		Supervisor: SupervisorConfig{
			StopGracePeriod: 10 * time.Second,
			RestartBackoff:  2 * time.Second,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "nexus",
		},
	}
}

func defaultInstallRoot() string {
	return "/var/lib/nexus/modules"
}
