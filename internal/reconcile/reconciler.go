// Package reconcile re-validates the device's persisted "active session"
// belief against the remote attendance record at startup. Anything that does
// not validate, including any remote error, fails safe to "not attending".
package reconcile

import (
	"context"
	"log"
	"time"

	"geoattend/internal/localstate"
	"geoattend/internal/session"
	"geoattend/internal/store"
)

// Reconciler restores an in-progress session after an app relaunch.
type Reconciler struct {
	store store.Store
	local localstate.Store
}

// New creates a reconciler.
func New(st store.Store, local localstate.Store) *Reconciler {
	return &Reconciler{store: st, local: local}
}

// Restore checks persisted session info against the remote record. It
// returns the refreshed info when the session may be resumed, or nil when
// the student is not in any session. The caller seeds the boundary watcher
// with the returned session id.
func (r *Reconciler) Restore(ctx context.Context, studentID string) (*session.ActiveSessionInfo, error) {
	info, err := r.local.Load(ctx, studentID)
	if err != nil {
		// Unreadable local state fails safe like every other path here.
		log.Printf("local session load failed, treating as not attending: %v", err)
		return nil, nil
	}
	if info == nil {
		return nil, nil
	}

	rec, err := r.store.GetAttendance(ctx, info.SessionID, studentID)
	if err != nil {
		// Fail safe: never resume an unverified state.
		log.Printf("reconcile fetch failed for session %s, discarding local state: %v", info.SessionID, err)
		r.discard(ctx, studentID)
		return nil, nil
	}
	if rec == nil || !rec.Status.Resumable() {
		r.discard(ctx, studentID)
		return nil, nil
	}

	now := time.Now()
	info.LastUpdated = now
	// Elapsed time is a local wall-clock delta from the join timestamp;
	// clock drift is an accepted limitation.
	info.DurationSec = int64(now.Sub(info.JoinTimestamp) / time.Second)
	info.WasVerified = rec.Status == session.RecordVerified
	info.IsRejoin = true

	if err := r.local.Save(ctx, studentID, *info); err != nil {
		log.Printf("local session refresh failed: %v", err)
	}
	if err := r.store.TouchAttendance(ctx, info.SessionID, studentID); err != nil {
		log.Printf("attendance touch failed for session %s: %v", info.SessionID, err)
	}

	log.Printf("restored active session %s (elapsed %ds)", info.SessionID, info.DurationSec)
	return info, nil
}

func (r *Reconciler) discard(ctx context.Context, studentID string) {
	if err := r.local.Clear(ctx, studentID); err != nil {
		log.Printf("local session clear failed: %v", err)
	}
}
