// Package supervisor implements the Module Supervisor (L): a per-module
// process lifecycle state machine that spawns a module's entry command,
// restarts it on unexpected exit with a backoff, forwards its stdout/
// stderr to the host log, and terminates it gracefully (with a forced
// kill fallback) on dispose.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"nexus/internal/module"
	"nexus/internal/template"
	"nexus/pkg/logging"
)

const subsystem = "Supervisor"

// EventSink receives the lifecycle events the supervisor's transitions
// publish, per spec.md §4.10's "publish Started(moduleId)"/"publish
// Terminated(moduleId)" side effects. internal/events' dispatcher-backed
// publisher satisfies this.
type EventSink interface {
	ModuleStarted(release module.ReleaseIdentifier)
	ModuleTerminated(release module.ReleaseIdentifier, err error)
}

// Supervisor owns exactly one module release's process lifecycle.
type Supervisor struct {
	release module.ReleaseIdentifier
	meta    module.Metadata
	dir     string // install directory containing the module's entry command

	terminateTimeout time.Duration
	minBackoff       time.Duration
	maxBackoff       time.Duration

	events EventSink
	engine *template.Engine

	mu      sync.Mutex
	state   module.SupervisorState
	cmd     *exec.Cmd
	stopCh  chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

// New builds a Supervisor for one module release. dir is the directory
// its entry command runs from (the installer's per-release install path).
func New(release module.ReleaseIdentifier, meta module.Metadata, dir string, events EventSink) *Supervisor {
	return &Supervisor{
		release:          release,
		meta:             meta,
		dir:              dir,
		terminateTimeout: 10 * time.Second,
		minBackoff:       time.Second,
		maxBackoff:       30 * time.Second,
		events:           events,
		engine:           template.New(),
		state:            module.StateInitializing,
	}
}

// State returns the supervisor's current state.
func (s *Supervisor) State() module.SupervisorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start begins the supervision loop: Initializing -> NotRunning -> Running,
// respawning on unexpected exit per spec.md §4.10's transition table. It
// returns once the module has been spawned for the first time (or once
// the loop shuts down because there is no entry command); the respawn
// loop itself continues in the background until Dispose is called.
func (s *Supervisor) Start(ctx context.Context) error {
	if strings.TrimSpace(s.meta.EntryCommand) == "" {
		s.setState(module.StateShutdown)
		logging.Info(subsystem, "module %s has no entry command, nothing to supervise", s.release)
		return nil
	}

	s.mu.Lock()
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.setState(module.StateNotRunning)

	started := make(chan struct{})
	s.wg.Add(1)
	go s.runLoop(ctx, started)
	<-started
	return nil
}

// runLoop spawns, waits, and (on unexpected exit) respawns after a
// backoff, until stopCh is closed by Dispose.
func (s *Supervisor) runLoop(ctx context.Context, started chan struct{}) {
	defer s.wg.Done()
	backoff := s.minBackoff
	first := true

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		cmd, err := s.spawn(ctx)
		if first {
			close(started)
			first = false
		}
		if err != nil {
			logging.Error(subsystem, err, "spawning module %s", s.release)
			s.setState(module.StateFailed)
			s.events.ModuleTerminated(s.release, err)
			if !s.sleepBackoff(&backoff) {
				return
			}
			continue
		}

		s.setState(module.StateRunning)
		s.events.ModuleStarted(s.release)
		if watchdog, werr := daemon.SdWatchdogEnabled(false); werr == nil && watchdog > 0 {
			_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
		}
		backoff = s.minBackoff

		waitErr := cmd.Wait()

		s.mu.Lock()
		disposing := s.stopped
		s.cmd = nil
		s.mu.Unlock()

		if disposing {
			s.setState(module.StateShutdown)
			s.events.ModuleTerminated(s.release, nil)
			return
		}

		s.setState(module.StateFailed)
		s.events.ModuleTerminated(s.release, waitErr)
		if !s.sleepBackoff(&backoff) {
			return
		}
	}
}

func (s *Supervisor) sleepBackoff(backoff *time.Duration) bool {
	select {
	case <-s.stopCh:
		return false
	case <-time.After(*backoff):
	}
	*backoff *= 2
	if *backoff > s.maxBackoff {
		*backoff = s.maxBackoff
	}
	return true
}

// spawn templates the entry command's arguments and starts the process,
// wiring its stdout/stderr to the host log prefixed with the module's
// human name.
func (s *Supervisor) spawn(ctx context.Context) (*exec.Cmd, error) {
	args, err := s.renderArguments()
	if err != nil {
		return nil, fmt.Errorf("supervisor: rendering entry arguments for %s: %w", s.release, err)
	}

	cmd := exec.Command(s.meta.EntryCommand, args...)
	cmd.Dir = s.dir
	cmd.Env = os.Environ()

	prefix := s.meta.Name
	if prefix == "" {
		prefix = string(s.release.Module)
	}
	cmd.Stdout = logging.NewPrefixedWriter(subsystem, prefix)
	cmd.Stderr = logging.NewPrefixedWriter(subsystem, prefix)

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cmd = cmd
	s.mu.Unlock()
	return cmd, nil
}

// renderArguments substitutes the case-insensitive %token% placeholders
// spec.md §4.10 names, then always runs the result through the
// sprig-enabled template engine for more expressive substitutions; a
// string with no template actions comes back unchanged.
func (s *Supervisor) renderArguments() ([]string, error) {
	raw := s.substituteTokens(s.meta.EntryArguments)

	rendered, err := s.engine.RenderGoTemplate(raw, map[string]interface{}{
		"module":      string(s.release.Module),
		"version":     s.release.Version.String(),
		"release":     s.release.String(),
		"releasedate": s.meta.ReleaseDate,
		"name":        s.meta.Name,
		"description": s.meta.Description,
		"author":      s.meta.Author,
	})
	if err != nil {
		return nil, err
	}
	str, _ := rendered.(string)
	if str == "" {
		str = raw
	}
	return strings.Fields(str), nil
}

func (s *Supervisor) substituteTokens(arguments string) string {
	replacer := strings.NewReplacer(
		"%module%", string(s.release.Module),
		"%version%", s.release.Version.String(),
		"%release%", s.release.String(),
		"%releasedate%", s.meta.ReleaseDate,
		"%name%", s.meta.Name,
		"%description%", s.meta.Description,
		"%author%", s.meta.Author,
		"%hostprocessid%", strconv.Itoa(os.Getpid()),
	)
	return replacer.Replace(caseInsensitiveTokens(arguments))
}

// caseInsensitiveTokens lower-cases known %Token% spellings so Replace's
// exact-match replacer still finds them regardless of the casing a
// module author used.
func caseInsensitiveTokens(s string) string {
	tokens := []string{"module", "version", "release", "releasedate", "name", "description", "author", "hostprocessid"}
	lower := s
	for _, tok := range tokens {
		lower = regexp.MustCompile("(?i)%"+tok+"%").ReplaceAllLiteralString(lower, "%"+tok+"%")
	}
	return lower
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Dispose gracefully terminates the supervised process: sends an
// interrupt, waits up to terminateTimeout, then force-kills. The
// respawn loop exits once the process is confirmed dead.
func (s *Supervisor) Dispose(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	cmd := s.cmd
	stopCh := s.stopCh
	s.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Signal(os.Interrupt)
		done := make(chan struct{})
		go func() { _, _ = cmd.Process.Wait(); close(done) }()
		select {
		case <-done:
		case <-time.After(s.terminateTimeout):
			_ = cmd.Process.Kill()
			<-done
		}
	}

	if stopCh != nil {
		close(stopCh)
	}
	s.wg.Wait()
	s.setState(module.StateShutdown)
	return nil
}

func (s *Supervisor) setState(state module.SupervisorState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}
