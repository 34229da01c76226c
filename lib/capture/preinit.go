package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mieweb/pulse-desktop/lib/events"
	"github.com/mieweb/pulse-desktop/lib/logger"
	"github.com/mieweb/pulse-desktop/lib/media"
)

// PreInitState is the pre-init manager's lifecycle state.
type PreInitState int

const (
	NotInitialized PreInitState = iota
	Initializing
	Ready
	ShuttingDown
)

func (s PreInitState) String() string {
	switch s {
	case Initializing:
		return "Initializing"
	case Ready:
		return "Ready"
	case ShuttingDown:
		return "ShuttingDown"
	default:
		return "NotInitialized"
	}
}

// SessionFactory builds a new session for the given configuration.
type SessionFactory func(ctx context.Context, cfg media.RecordingConfig) (*Session, error)

// idleCheckInterval is how often the idle monitor re-evaluates the activity
// clock.
const idleCheckInterval = 15 * time.Second

// Manager keeps one pre-initialized Session warm so a hotkey press turns into
// a recording with a single stream start. Configuration changes invalidate
// the held session; an idle timer releases capture resources when the user is
// clearly not about to record.
type Manager struct {
	factory     SessionFactory
	bus         *events.Bus
	idleTimeout time.Duration

	mu           sync.Mutex
	state        PreInitState
	session      *Session
	cfg          media.RecordingConfig
	enabled      bool
	lastActivity time.Time

	flight singleflight.Group
}

func NewManager(factory SessionFactory, bus *events.Bus, cfg media.RecordingConfig, idleTimeout time.Duration) *Manager {
	return &Manager{
		factory:      factory,
		bus:          bus,
		idleTimeout:  idleTimeout,
		cfg:          cfg,
		enabled:      true,
		lastActivity: time.Now(),
	}
}

// State returns the current pre-init state.
func (m *Manager) State() PreInitState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Config returns the configuration the next session will be built from.
func (m *Manager) Config() media.RecordingConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

func (m *Manager) setState(ctx context.Context, s PreInitState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	m.bus.Emit(ctx, events.Event{Type: events.PreInitStatusChanged, Payload: s.String()})
}

// Initialize builds and pre-initializes a fresh session. It is idempotent:
// in Ready it is a no-op, concurrent calls coalesce onto one build, and a
// call during ShuttingDown waits for the teardown before rebuilding.
func (m *Manager) Initialize(ctx context.Context) error {
	_, err, _ := m.flight.Do("initialize", func() (any, error) {
		log := logger.FromContext(ctx)

		m.mu.Lock()
		if !m.enabled {
			m.mu.Unlock()
			return nil, nil
		}
		if m.state == Ready {
			m.mu.Unlock()
			return nil, nil
		}
		for m.state == ShuttingDown {
			// teardown in flight; re-check shortly
			m.mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			m.mu.Lock()
		}
		cfg := m.cfg
		m.mu.Unlock()

		m.setState(ctx, Initializing)
		started := time.Now()

		session, err := m.factory(ctx, cfg)
		if err == nil {
			err = session.PreInitialize(ctx)
		}
		if err != nil {
			// surface the error, no retry loop
			m.setState(ctx, NotInitialized)
			return nil, fmt.Errorf("pre-initialization failed: %w", err)
		}

		m.mu.Lock()
		m.session = session
		m.mu.Unlock()
		m.setState(ctx, Ready)

		log.Info("capture pipeline pre-initialized", "took", time.Since(started), "session_id", session.ID())
		return nil, nil
	})
	return err
}

// Take removes the warm session from the manager's slot. Returns false when
// no session is ready; the caller then falls back to building one on demand.
func (m *Manager) Take(ctx context.Context) (*Session, bool) {
	m.mu.Lock()
	if m.state != Ready || m.session == nil {
		m.mu.Unlock()
		return nil, false
	}
	session := m.session
	m.session = nil
	m.mu.Unlock()

	m.setState(ctx, NotInitialized)
	return session, true
}

// Shutdown tears down the held session and releases capture resources.
func (m *Manager) Shutdown(ctx context.Context) error {
	_, err, _ := m.flight.Do("shutdown", func() (any, error) {
		m.mu.Lock()
		if m.state != Ready {
			m.mu.Unlock()
			return nil, nil
		}
		session := m.session
		m.session = nil
		m.mu.Unlock()

		m.setState(ctx, ShuttingDown)
		var err error
		if session != nil {
			err = session.Close(ctx)
		}
		m.setState(ctx, NotInitialized)
		return nil, err
	})
	return err
}

// SetConfig installs a new recording configuration. Any change that affects
// the capture pipeline forces a teardown and, if the manager held a warm
// session, a rebuild. There is no partial-reconfiguration path.
func (m *Manager) SetConfig(ctx context.Context, cfg media.RecordingConfig) error {
	m.mu.Lock()
	unchanged := m.cfg.Equal(cfg)
	m.cfg = cfg
	wasReady := m.state == Ready
	m.mu.Unlock()

	if unchanged {
		return nil
	}
	if !wasReady {
		return nil
	}
	if err := m.Shutdown(ctx); err != nil {
		return err
	}
	return m.Initialize(ctx)
}

// Toggle flips the manager between NotInitialized and Ready for direct user
// control. Returns whether pre-init is now enabled.
func (m *Manager) Toggle(ctx context.Context) (bool, error) {
	m.mu.Lock()
	m.enabled = !m.enabled
	enabled := m.enabled
	m.mu.Unlock()

	if enabled {
		return true, m.Initialize(ctx)
	}
	return false, m.Shutdown(ctx)
}

// UpdateActivity marks the user as active, deferring the idle shutdown.
func (m *Manager) UpdateActivity() {
	m.mu.Lock()
	m.lastActivity = time.Now()
	m.mu.Unlock()
}

// Serve runs the idle monitor until ctx is cancelled. It implements
// suture.Service.
func (m *Manager) Serve(ctx context.Context) error {
	if m.idleTimeout <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(idleCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.mu.Lock()
			idle := m.state == Ready && time.Since(m.lastActivity) > m.idleTimeout
			m.mu.Unlock()
			if !idle {
				continue
			}

			logger.FromContext(ctx).Info("pre-init idle timeout reached, releasing capture resources")
			if err := m.Shutdown(ctx); err != nil {
				logger.FromContext(ctx).Warn("idle shutdown failed", "err", err)
				continue
			}
			m.bus.Emit(ctx, events.Event{Type: events.PreInitIdleShutdown})
		}
	}
}
