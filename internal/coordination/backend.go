package coordination

import (
	"fmt"

	"k8s.io/client-go/rest"
	ctrl "sigs.k8s.io/controller-runtime"

	"nexus/internal/config"
	"nexus/pkg/logging"
)

// NewStorageFromConfig builds the Storage backend selected by cfg.Backend,
// auto-detecting cluster availability the same way the teacher's reconcile
// manager picks between its filesystem and Kubernetes change detectors.
func NewStorageFromConfig(cfg config.CoordinationConfig) (Storage, error) {
	backend := cfg.Backend
	if backend == config.CoordinationBackendAuto {
		if LeaseBackendAvailable() {
			logging.Info(subsystem, "auto-detected Kubernetes lease backend")
			backend = config.CoordinationBackendLease
		} else {
			logging.Info(subsystem, "no Kubernetes API reachable, falling back to in-memory coordination backend")
			backend = config.CoordinationBackendMemory
		}
	}

	switch backend {
	case config.CoordinationBackendMemory:
		return NewMemoryStorage(), nil
	case config.CoordinationBackendLease:
		restConfig, err := ctrl.GetConfig()
		if err != nil {
			return nil, fmt.Errorf("coordination: getting Kubernetes config: %w", err)
		}
		return newLeaseStorageTyped(restConfig, cfg.Namespace)
	default:
		return nil, fmt.Errorf("coordination: unknown backend %q", backend)
	}
}

func newLeaseStorageTyped(restConfig *rest.Config, namespace string) (Storage, error) {
	return NewLeaseStorage(restConfig, namespace)
}
