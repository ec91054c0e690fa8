// Package monitor tracks whether an already-checked-in student remains
// inside the session geofence, and auto-checks-out students who stay outside
// past the grace period.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"geoattend/internal/geo"
	"geoattend/internal/localstate"
	"geoattend/internal/location"
	"geoattend/internal/metrics"
	"geoattend/internal/notify"
	"geoattend/internal/session"
	"geoattend/internal/store"
)

// State is the watcher's position relative to the geofence.
type State string

const (
	Unmonitored State = "unmonitored"
	InBounds    State = "in_bounds"
	OutOfBounds State = "out_of_bounds"
	Terminated  State = "terminated"
)

// ErrSessionNotActive is returned when monitoring is requested for a session
// that is missing or no longer active.
var ErrSessionNotActive = errors.New("monitor: session not active")

// ErrNoAttendance is returned when the student has no record to monitor.
var ErrNoAttendance = errors.New("monitor: no attendance record for session")

// Config tunes the sampling loop.
type Config struct {
	SampleInterval time.Duration // default 1s
	Grace          time.Duration // out-of-bounds allowance, default 30s
}

func (c Config) withDefaults() Config {
	if c.SampleInterval <= 0 {
		c.SampleInterval = time.Second
	}
	if c.Grace <= 0 {
		c.Grace = 30 * time.Second
	}
	return c
}

// FixSource supplies the device's latest known position.
type FixSource interface {
	Latest() (location.Fix, bool)
}

// Watcher runs one monitoring cycle at a time for the device. Starting a new
// cycle tears down any prior one first.
type Watcher struct {
	store    store.Store
	fixes    FixSource
	notifier notify.Scheduler
	local    localstate.Store // nil disables local state clearing
	cfg      Config

	// OnAutoCheckout runs after a timer-driven checkout write. Set before Start.
	OnAutoCheckout func(sessionID string)
	// OnSessionEnd runs when the watched session leaves "active". Set before Start.
	OnSessionEnd func(sessionID string)

	mu            sync.Mutex
	state         State
	cycle         int // invalidates stale timer callbacks across restarts
	sessionID     string
	studentID     string
	fence         geo.Coordinate
	radius        float64
	checkInTime   time.Time
	checkoutTimer *time.Timer
	expiryNotifID string
	runCtx        context.Context
	cancelRun     context.CancelFunc
	subCancel     func()
	wg            sync.WaitGroup
}

// New creates a watcher. local may be nil.
func New(st store.Store, fixes FixSource, notifier notify.Scheduler, local localstate.Store, cfg Config) *Watcher {
	return &Watcher{
		store:    st,
		fixes:    fixes,
		notifier: notifier,
		local:    local,
		cfg:      cfg.withDefaults(),
		state:    Unmonitored,
	}
}

// Start begins monitoring sessionID for studentID. It fetches the
// authoritative geofence from the store and samples until checkout, session
// end, or Stop.
func (w *Watcher) Start(ctx context.Context, sessionID, studentID string) error {
	w.Stop()

	s, err := w.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if s == nil || !s.Active() {
		return ErrSessionNotActive
	}
	rec, err := w.store.GetAttendance(ctx, sessionID, studentID)
	if err != nil {
		return err
	}
	if rec == nil {
		return ErrNoAttendance
	}

	runCtx, cancel := context.WithCancel(context.Background())
	updates, subCancel, err := w.store.SubscribeSession(runCtx, sessionID)
	if err != nil {
		// Monitoring still works without the push feed; session end is then
		// only observed through sampling failures.
		log.Printf("session subscription unavailable for %s: %v", sessionID, err)
		updates, subCancel = nil, func() {}
	}

	w.mu.Lock()
	w.cycle++
	w.state = InBounds
	w.sessionID = sessionID
	w.studentID = studentID
	w.fence = s.Location
	w.radius = s.RadiusM
	if w.radius <= 0 {
		w.radius = geo.DefaultSessionRadiusMeters
	}
	w.checkInTime = rec.CheckInTime
	w.runCtx = runCtx
	w.cancelRun = cancel
	w.subCancel = subCancel
	w.mu.Unlock()

	metrics.MonitoringActive.Set(1)
	log.Printf("monitoring started: session=%s radius=%.0fm interval=%s grace=%s",
		sessionID, w.radius, w.cfg.SampleInterval, w.cfg.Grace)

	w.wg.Add(1)
	go w.run(runCtx, updates)
	return nil
}

func (w *Watcher) run(ctx context.Context, updates <-chan session.Session) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.cfg.SampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.sample()
		case s, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			if !s.Active() {
				w.sessionEnded()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// sample evaluates the latest fix against the stored geofence. The distance
// is computed once and feeds both the boundary predicate and logging, so the
// two can never disagree.
func (w *Watcher) sample() {
	fix, ok := w.fixes.Latest()
	if !ok {
		return
	}
	if !fix.Coordinate.Valid() {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != InBounds && w.state != OutOfBounds {
		return
	}

	dist := geo.DistanceMeters(w.fence, fix.Coordinate)
	in := dist <= w.radius

	switch {
	case w.state == InBounds && !in:
		w.toOutOfBoundsLocked(dist)
	case w.state == OutOfBounds && in:
		w.toInBoundsLocked()
	}
}

// toOutOfBoundsLocked fires the exit notification and arms the auto-checkout
// timer plus its expiry notification. Caller holds w.mu.
func (w *Watcher) toOutOfBoundsLocked(dist float64) {
	w.state = OutOfBounds
	metrics.BoundaryTransitions.WithLabelValues("out").Inc()
	log.Printf("out of bounds: session=%s distance=%.0fm", w.sessionID, dist)

	secs := int(w.cfg.Grace / time.Second)
	w.notifier.Now("Outside Class Area",
		fmt.Sprintf("Return within %d seconds or you will be checked out.", secs))
	w.expiryNotifID = w.notifier.After(w.cfg.Grace,
		"Auto Checked Out", "You were checked out after leaving the class area.")

	cycle := w.cycle
	w.checkoutTimer = time.AfterFunc(w.cfg.Grace, func() {
		w.autoCheckout(cycle)
	})
}

// toInBoundsLocked cancels the pending checkout and its scheduled
// notification. Caller holds w.mu.
func (w *Watcher) toInBoundsLocked() {
	w.state = InBounds
	metrics.BoundaryTransitions.WithLabelValues("in").Inc()
	log.Printf("back in bounds: session=%s", w.sessionID)

	w.cancelPendingLocked()
	w.notifier.Now("Welcome Back", "You're back in the class area.")
}

func (w *Watcher) cancelPendingLocked() {
	if w.checkoutTimer != nil {
		w.checkoutTimer.Stop()
		w.checkoutTimer = nil
	}
	if w.expiryNotifID != "" {
		w.notifier.Cancel(w.expiryNotifID)
		w.expiryNotifID = ""
	}
}

// autoCheckout runs when the grace timer expires. It re-validates the latest
// fix inside the callback: a student who returned in the last instant must
// not be checked out, even if the sampling loop has not observed it yet.
func (w *Watcher) autoCheckout(cycle int) {
	w.mu.Lock()
	if w.cycle != cycle || w.state != OutOfBounds {
		w.mu.Unlock()
		return
	}

	if fix, ok := w.fixes.Latest(); ok && fix.Coordinate.Valid() {
		if geo.DistanceMeters(w.fence, fix.Coordinate) <= w.radius {
			w.toInBoundsLocked()
			w.mu.Unlock()
			return
		}
	}

	sessionID := w.sessionID
	studentID := w.studentID
	duration := int64(time.Since(w.checkInTime) / time.Second)
	ctx := w.runCtx
	w.state = Terminated
	w.cancelPendingLocked()
	onAutoCheckout := w.OnAutoCheckout
	w.mu.Unlock()

	if err := w.store.CheckOut(ctx, sessionID, studentID, session.RecordAbsent, duration); err != nil {
		log.Printf("auto checkout write failed for session %s: %v", sessionID, err)
	}
	if w.local != nil {
		if err := w.local.Clear(ctx, studentID); err != nil {
			log.Printf("local session clear failed: %v", err)
		}
	}
	metrics.AutoCheckouts.Inc()
	metrics.MonitoringActive.Set(0)
	log.Printf("auto checked out: session=%s after=%ds", sessionID, duration)

	w.teardown()
	if onAutoCheckout != nil {
		onAutoCheckout(sessionID)
	}
}

// sessionEnded clears monitoring when the session leaves "active".
func (w *Watcher) sessionEnded() {
	w.mu.Lock()
	if w.state != InBounds && w.state != OutOfBounds {
		w.mu.Unlock()
		return
	}
	sessionID := w.sessionID
	studentID := w.studentID
	ctx := w.runCtx
	w.state = Terminated
	w.cancelPendingLocked()
	onEnd := w.OnSessionEnd
	w.mu.Unlock()

	if w.local != nil {
		if err := w.local.Clear(ctx, studentID); err != nil {
			log.Printf("local session clear failed: %v", err)
		}
	}
	w.notifier.Now("Class Ended", "Your session has ended.")
	metrics.MonitoringActive.Set(0)
	log.Printf("session ended: %s", sessionID)

	w.teardown()
	if onEnd != nil {
		onEnd(sessionID)
	}
}

// teardown releases the run goroutine's resources without waiting for it;
// safe to call from within the run goroutine itself.
func (w *Watcher) teardown() {
	w.mu.Lock()
	if w.cancelRun != nil {
		w.cancelRun()
	}
	if w.subCancel != nil {
		w.subCancel()
	}
	w.mu.Unlock()
}

// Stop cancels timers, scheduled notifications, and the sampling loop.
// Idempotent; safe when nothing is active.
func (w *Watcher) Stop() {
	w.mu.Lock()
	w.cycle++
	active := w.state == InBounds || w.state == OutOfBounds
	w.cancelPendingLocked()
	if w.cancelRun != nil {
		w.cancelRun()
		w.cancelRun = nil
	}
	if w.subCancel != nil {
		w.subCancel()
		w.subCancel = nil
	}
	w.state = Unmonitored
	w.mu.Unlock()

	w.wg.Wait()
	if active {
		metrics.MonitoringActive.Set(0)
	}
}

// State returns the current monitoring state.
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// SessionID returns the watched session id, empty when unmonitored.
func (w *Watcher) SessionID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == InBounds || w.state == OutOfBounds {
		return w.sessionID
	}
	return ""
}
