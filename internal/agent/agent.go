// Package agent ties the attendance core together for one signed-in student:
// location manager, session checker, boundary watcher, and startup
// reconciliation, plus the in-flight check cancellation the UI layer uses.
package agent

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"geoattend/internal/checker"
	"geoattend/internal/localstate"
	"geoattend/internal/location"
	"geoattend/internal/monitor"
	"geoattend/internal/reconcile"
	"geoattend/internal/session"
	"geoattend/internal/store"
)

// ErrNotAttending is returned by LeaveEarly when no session is active.
var ErrNotAttending = errors.New("agent: not attending any session")

// Agent is the device-side attendance core for a single student.
type Agent struct {
	StudentID string

	Store      store.Store
	Locations  *location.Manager
	Checker    *checker.Checker
	Watcher    *monitor.Watcher
	Reconciler *reconcile.Reconciler
	Local      localstate.Store

	mu          sync.Mutex
	checkCancel context.CancelFunc
	checkGen    uint64
	active      *session.ActiveSessionInfo
}

// Startup starts the location manager and reconciles any persisted session.
// A validated prior session seeds the boundary watcher.
func (a *Agent) Startup(ctx context.Context) error {
	a.Watcher.OnAutoCheckout = func(sessionID string) { a.clearActive(sessionID) }
	a.Watcher.OnSessionEnd = func(sessionID string) { a.clearActive(sessionID) }

	if err := a.Locations.Start(ctx); err != nil {
		// Permission denial is terminal until the user acts; the agent still
		// runs so the error state can be surfaced and retried.
		log.Printf("location unavailable: %v", err)
	}

	info, err := a.Reconciler.Restore(ctx, a.StudentID)
	if err != nil {
		return err
	}
	if info == nil {
		return nil
	}
	if err := a.Watcher.Start(ctx, info.SessionID, a.StudentID); err != nil {
		// The record validated but the session did not; fail safe.
		log.Printf("could not resume monitoring for session %s: %v", info.SessionID, err)
		if cerr := a.Local.Clear(ctx, a.StudentID); cerr != nil {
			log.Printf("local session clear failed: %v", cerr)
		}
		return nil
	}
	a.mu.Lock()
	a.active = info
	a.mu.Unlock()
	return nil
}

func (a *Agent) clearActive(sessionID string) {
	a.mu.Lock()
	if a.active != nil && a.active.SessionID == sessionID {
		a.active = nil
	}
	a.mu.Unlock()
}

// RunCheck performs one attendance check. A prior in-flight check is
// cancelled first; CancelCheck cancels this one.
func (a *Agent) RunCheck(ctx context.Context) checker.Result {
	checkCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	if a.checkCancel != nil {
		a.checkCancel()
	}
	a.checkGen++
	gen := a.checkGen
	a.checkCancel = cancel
	a.mu.Unlock()

	res := a.Checker.CheckSessions(checkCtx, a.StudentID)

	// Release only this call's context; a superseding check owns the stored
	// cancel once the generation moves on.
	cancel()
	a.mu.Lock()
	if a.checkGen == gen {
		a.checkCancel = nil
	}
	a.mu.Unlock()

	if res.Success && res.IsAttending {
		if err := a.Watcher.Start(ctx, res.SessionID, a.StudentID); err != nil {
			log.Printf("monitoring start failed for session %s: %v", res.SessionID, err)
		}
		now := time.Now()
		a.mu.Lock()
		a.active = &session.ActiveSessionInfo{
			SessionID:     res.SessionID,
			ClassID:       res.ClassID,
			CheckInTime:   now,
			LastUpdated:   now,
			JoinTimestamp: now,
		}
		a.mu.Unlock()
	}
	return res
}

// CancelCheck cancels an in-flight RunCheck, if any.
func (a *Agent) CancelCheck() {
	a.mu.Lock()
	if a.checkCancel != nil {
		a.checkCancel()
		a.checkCancel = nil
	}
	a.mu.Unlock()
}

// LeaveEarly checks the student out of the active session on explicit
// request. A record not yet verified is marked
// checked_out_early_before_verification; a verified one keeps its status.
func (a *Agent) LeaveEarly(ctx context.Context) error {
	a.mu.Lock()
	info := a.active
	a.mu.Unlock()
	if info == nil {
		return ErrNotAttending
	}

	rec, err := a.Store.GetAttendance(ctx, info.SessionID, a.StudentID)
	if err != nil {
		return err
	}
	if rec == nil {
		a.finishLeave(ctx, info.SessionID)
		return ErrNotAttending
	}

	status := session.RecordLeftEarly
	if rec.Status == session.RecordVerified {
		status = session.RecordVerified
	}
	duration := int64(time.Since(info.JoinTimestamp) / time.Second)
	if err := a.Store.CheckOut(ctx, info.SessionID, a.StudentID, status, duration); err != nil {
		return err
	}
	a.finishLeave(ctx, info.SessionID)
	return nil
}

func (a *Agent) finishLeave(ctx context.Context, sessionID string) {
	a.Watcher.Stop()
	if err := a.Local.Clear(ctx, a.StudentID); err != nil {
		log.Printf("local session clear failed: %v", err)
	}
	a.clearActive(sessionID)
}

// Status is a snapshot for the UI layer.
type Status struct {
	StudentID     string                     `json:"student_id"`
	Monitoring    monitor.State              `json:"monitoring"`
	ActiveSession *session.ActiveSessionInfo `json:"active_session,omitempty"`
	HasFix        bool                       `json:"has_fix"`
	Latitude      float64                    `json:"latitude,omitempty"`
	Longitude     float64                    `json:"longitude,omitempty"`
	LocationError string                     `json:"location_error,omitempty"`
}

// Snapshot returns the agent's current state.
func (a *Agent) Snapshot() Status {
	st := Status{
		StudentID:  a.StudentID,
		Monitoring: a.Watcher.State(),
	}
	if fix, ok := a.Locations.Latest(); ok {
		st.HasFix = true
		st.Latitude = fix.Coordinate.Latitude
		st.Longitude = fix.Coordinate.Longitude
	}
	if err := a.Locations.Err(); err != nil {
		st.LocationError = err.Error()
	}
	a.mu.Lock()
	if a.active != nil {
		info := *a.active
		info.DurationSec = int64(time.Since(info.JoinTimestamp) / time.Second)
		st.ActiveSession = &info
	}
	a.mu.Unlock()
	return st
}

// Shutdown releases location and monitoring resources.
func (a *Agent) Shutdown() {
	a.CancelCheck()
	a.Watcher.Stop()
	a.Locations.Stop()
}
