package location

import (
	"context"
	"log"
	"sync"
	"time"
)

// Manager owns the device's location subscription: it requests permission,
// resolves one immediate fix, then keeps the latest fix cached from a
// continuous watch. A denied permission leaves the manager in a terminal
// error state until RequestPermission is called again.
type Manager struct {
	provider Provider
	opts     WatchOptions

	// fallbackPoll layers an active ~1s poll on top of the watch; only the
	// dev agent enables it, for simulators that never deliver watch events.
	fallbackPoll bool

	mu      sync.RWMutex
	latest  *Fix
	err     error
	loading bool
	cancel  context.CancelFunc

	wg sync.WaitGroup
}

// NewManager wraps a provider. Start must be called before Latest is useful.
func NewManager(p Provider, opts WatchOptions, fallbackPoll bool) *Manager {
	return &Manager{provider: p, opts: opts.withDefaults(), fallbackPoll: fallbackPoll}
}

// Start requests permission, resolves an immediate fix, and opens the watch.
// Safe to call again after Stop or after a permission retry.
func (m *Manager) Start(ctx context.Context) error {
	m.Stop()

	m.mu.Lock()
	m.loading = true
	m.err = nil
	m.mu.Unlock()

	if err := m.provider.RequestPermission(ctx); err != nil {
		m.mu.Lock()
		m.err = err
		m.loading = false
		m.mu.Unlock()
		return err
	}

	if fix, err := m.provider.Current(ctx); err == nil {
		m.setFix(fix)
	} else {
		log.Printf("initial location fix failed: %v", err)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	updates, err := m.provider.Watch(watchCtx, m.opts)
	if err != nil {
		cancel()
		m.mu.Lock()
		m.err = err
		m.loading = false
		m.mu.Unlock()
		return err
	}
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for fix := range updates {
			m.setFix(fix)
		}
	}()

	if m.fallbackPoll {
		m.wg.Add(1)
		go m.poll(watchCtx)
	}

	m.mu.Lock()
	m.loading = false
	m.mu.Unlock()
	return nil
}

func (m *Manager) poll(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if fix, err := m.provider.Current(ctx); err == nil {
				m.setFix(fix)
			}
		case <-ctx.Done():
			return
		}
	}
}

// RequestPermission retries the permission flow and, on success, restarts the
// subscription. This is the only path out of a denied state.
func (m *Manager) RequestPermission(ctx context.Context) error {
	return m.Start(ctx)
}

// Latest returns the most recent fix, if any.
func (m *Manager) Latest() (Fix, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.latest == nil {
		return Fix{}, false
	}
	return *m.latest, true
}

// Err reports the manager's error state (nil when healthy).
func (m *Manager) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.err
}

// Loading reports whether the initial permission/fix flow is still running.
func (m *Manager) Loading() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loading
}

// Stop releases the watch subscription and any fallback poll. Idempotent.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) setFix(fix Fix) {
	m.mu.Lock()
	m.latest = &fix
	m.mu.Unlock()
}
