// Package events defines nexus's module lifecycle event types and a thin
// Publisher that hands them to whichever DispatcherHandler internal/api
// has registered, keeping internal/supervisor and internal/installer
// free of a direct dependency on internal/remote or internal/dispatch.
package events

import (
	"fmt"

	"nexus/internal/api"
	"nexus/internal/module"
	"nexus/pkg/logging"
)

const subsystem = "Events"

// ModuleStartedEvent is published when the Module Supervisor (L)
// transitions a release to Running, per spec.md §4.10's "publish
// Started(moduleId)" side effect.
type ModuleStartedEvent struct {
	Release module.ReleaseIdentifier
}

// ModuleTerminatedEvent is published when a supervised process exits
// (expectedly on dispose, or unexpectedly before dispose), per spec.md
// §4.10's "publish Terminated(moduleId)" side effect. Err is nil for an
// expected, dispose-requested termination.
type ModuleTerminatedEvent struct {
	Release module.ReleaseIdentifier
	Err     error
}

// InstallationSetChangedEvent carries a new, consistent installation set
// resolved by the Planner (M). No part of nexus publishes it; internal/app
// publishes only InstallationSetConflictEvent, when planning fails.
type InstallationSetChangedEvent struct {
	Resolved module.ResolvedInstallationSet
}

// InstallationSetConflictEvent is published when the Planner finds no
// consistent installation set for the current desired requirements, per
// spec.md §8 scenario S6: the previously resolved set is retained.
type InstallationSetConflictEvent struct {
	Desired module.UnresolvedInstallationSet
}

// ModuleInstalledEvent, ModuleUpdatedEvent, and ModuleUninstalledEvent
// track a release's presence in the installation set independent of its
// process lifecycle — the distinction between "the Planner resolved this
// release" and "the Supervisor is currently running it" that the
// distilled dispatch-framework spec doesn't model but the original
// module-management tooling this system generalizes always provided.
type ModuleInstalledEvent struct {
	Release module.ReleaseIdentifier
}

type ModuleUpdatedEvent struct {
	Previous module.ReleaseIdentifier
	Current  module.ReleaseIdentifier
}

type ModuleUninstalledEvent struct {
	Release module.ReleaseIdentifier
}

// ReleaseAddedEvent and ReleaseRemovedEvent track the catalog of known
// releases a DependencyResolver can offer the Planner, independent of
// which ones are currently installed.
type ReleaseAddedEvent struct {
	Release module.ReleaseIdentifier
}

type ReleaseRemovedEvent struct {
	Release module.ReleaseIdentifier
}

// Publisher hands events to the registered DispatcherHandler. Publishing
// with no handler registered (e.g. in unit tests that don't wire a full
// dispatcher) is a silent no-op, matching the "events are best-effort
// side channels, not a required transport" design.
type Publisher struct{}

// NewPublisher returns a Publisher.
func NewPublisher() *Publisher {
	return &Publisher{}
}

// Publish hands event to the process-wide DispatcherHandler, if one is
// registered.
func (p *Publisher) Publish(event interface{}) error {
	handler, ok := api.GetDispatcherHandler()
	if !ok {
		return nil
	}
	if err := handler.Publish(event); err != nil {
		return fmt.Errorf("events: publishing %T: %w", event, err)
	}
	return nil
}

// SupervisorSink adapts Publisher to internal/supervisor.EventSink,
// wiring the Module Supervisor's (L) Started/Terminated side effects
// into the dispatcher without internal/supervisor importing this
// package (or internal/dispatch, or internal/remote) directly.
type SupervisorSink struct {
	publisher *Publisher
}

// NewSupervisorSink returns a SupervisorSink backed by publisher.
func NewSupervisorSink(publisher *Publisher) *SupervisorSink {
	return &SupervisorSink{publisher: publisher}
}

// ModuleStarted publishes a ModuleStartedEvent.
func (s *SupervisorSink) ModuleStarted(release module.ReleaseIdentifier) {
	if err := s.publisher.Publish(ModuleStartedEvent{Release: release}); err != nil {
		logging.Warn(subsystem, "publishing ModuleStartedEvent for %s: %v", release, err)
	}
}

// ModuleTerminated publishes a ModuleTerminatedEvent.
func (s *SupervisorSink) ModuleTerminated(release module.ReleaseIdentifier, cause error) {
	if err := s.publisher.Publish(ModuleTerminatedEvent{Release: release, Err: cause}); err != nil {
		logging.Warn(subsystem, "publishing ModuleTerminatedEvent for %s: %v", release, err)
	}
}
