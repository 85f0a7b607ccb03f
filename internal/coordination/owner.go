package coordination

import (
	"context"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"nexus/internal/addressing"
	"nexus/pkg/logging"
)

// Owner is the Session Owner (spec.md §4.2): the process-local component
// that begins one session on startup, renews its lease on a fixed
// schedule, and disposes of it (removing every owned entry) on shutdown or
// on learning the lease was lost out from under it. A process hosts
// exactly one Owner.
type Owner struct {
	manager  *Manager
	leaseTTL time.Duration
	physical addressing.PhysicalAddress

	mu       sync.Mutex
	session  addressing.Session
	begun    bool
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	onTerminated func()
}

// NewOwner builds an Owner that renews its lease at leaseTTL/2 intervals,
// matching the conventional lease-to-renewal-period ratio used by
// Kubernetes' own lease-based leader election.
func NewOwner(manager *Manager, physical addressing.PhysicalAddress, leaseTTL time.Duration) *Owner {
	return &Owner{
		manager:  manager,
		leaseTTL: leaseTTL,
		physical: physical,
		stopCh:   make(chan struct{}),
	}
}

// OnTerminated registers a callback invoked once if the owner discovers,
// during a renewal attempt, that its session has been externally
// terminated (ErrSessionTerminated). The callback should trigger process
// self-disposal per spec.md §4.2.
func (o *Owner) OnTerminated(fn func()) {
	o.mu.Lock()
	o.onTerminated = fn
	o.mu.Unlock()
}

// Begin creates the owned session and starts the renewal loop.
func (o *Owner) Begin(ctx context.Context) (addressing.Session, error) {
	var session addressing.Session
	backoff := 10 * time.Millisecond
	for {
		var err error
		session, err = addressing.NewSession(o.physical)
		if err != nil {
			return addressing.Session{}, err
		}

		err = o.manager.Begin(ctx, session, time.Now().Add(o.leaseTTL))
		if err == nil {
			break
		}
		if err != ErrAlreadyBegun {
			return addressing.Session{}, err
		}

		logging.Warn(subsystem, "session id collision, regenerating")
		select {
		case <-ctx.Done():
			return addressing.Session{}, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < time.Second {
			backoff *= 2
		}
	}

	o.mu.Lock()
	o.session = session
	o.begun = true
	o.mu.Unlock()

	o.wg.Add(1)
	go o.renewLoop()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	logging.Info(subsystem, "session %s begun", session.String())
	return session, nil
}

// Session returns the owned session. The zero value is returned if Begin
// has not yet succeeded.
func (o *Owner) Session() addressing.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session
}

func (o *Owner) renewLoop() {
	defer o.wg.Done()

	interval := o.leaseTTL / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	watchdogInterval, err := daemon.SdWatchdogEnabled(false)
	watchdogEnabled := err == nil && watchdogInterval > 0

	for {
		select {
		case <-o.stopCh:
			return
		case <-ticker.C:
			session := o.Session()
			if err := o.manager.Renew(context.Background(), session, time.Now().Add(o.leaseTTL)); err != nil {
				if err == ErrSessionTerminated {
					logging.Warn(subsystem, "session %s lease lost, disposing", session.String())
					o.dispatchTerminated()
					return
				}
				logging.Error(subsystem, err, "renewing session %s lease", session.String())
				continue
			}
			if watchdogEnabled {
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	}
}

func (o *Owner) dispatchTerminated() {
	o.mu.Lock()
	fn := o.onTerminated
	o.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Dispose ends the owned session, removing every entry it still owns, and
// stops the renewal loop. It is safe to call more than once.
func (o *Owner) Dispose(ctx context.Context) error {
	o.stopOnce.Do(func() { close(o.stopCh) })
	o.wg.Wait()

	o.mu.Lock()
	begun := o.begun
	session := o.session
	o.mu.Unlock()
	if !begun {
		return nil
	}

	entries, err := o.manager.Entries(ctx, session)
	if err != nil {
		logging.Warn(subsystem, "listing entries for session %s during dispose: %v", session.String(), err)
	}
	for _, entry := range entries {
		if err := o.manager.RemoveEntry(ctx, session, entry); err != nil {
			logging.Warn(subsystem, "removing entry %s for session %s during dispose: %v", entry.String(), session.String(), err)
		}
	}

	if err := o.manager.End(ctx, session); err != nil {
		return err
	}
	logging.Info(subsystem, "session %s disposed", session.String())
	return nil
}
