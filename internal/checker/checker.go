// Package checker implements the one-shot session attendance check: find the
// active session whose geofence contains the device and record a check-in
// against it.
package checker

import (
	"context"
	"log"
	"time"

	"geoattend/internal/geo"
	"geoattend/internal/localstate"
	"geoattend/internal/location"
	"geoattend/internal/metrics"
	"geoattend/internal/queue"
	"geoattend/internal/session"
	"geoattend/internal/store"
)

// Result is the outcome of one CheckSessions call. Cancellation is a
// distinct non-error outcome so the UI never shows an error toast for a
// user-initiated cancel.
type Result struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	IsAttending bool   `json:"is_attending"`
	SessionID   string `json:"session_id,omitempty"`
	ClassID     string `json:"class_id,omitempty"`
	Cancelled   bool   `json:"cancelled,omitempty"`
}

// FixSource supplies the device's latest known position.
type FixSource interface {
	Latest() (location.Fix, bool)
}

// Checker evaluates the device against all active sessions of the student's
// classes.
type Checker struct {
	store    store.Store
	fixes    FixSource
	local    localstate.Store // nil disables local session persistence
	queue    queue.Queue      // nil disables verification events
	devDelay time.Duration    // dev-only artificial remote latency
}

// New creates a checker. local and q may be nil.
func New(st store.Store, fixes FixSource, local localstate.Store, q queue.Queue, devDelay time.Duration) *Checker {
	return &Checker{store: st, fixes: fixes, local: local, queue: q, devDelay: devDelay}
}

func cancelledResult() Result {
	return Result{Success: false, Cancelled: true, Message: "check cancelled"}
}

// pause blocks for the configured dev delay, observing cancellation. It
// exists only to widen the cancellation window in development builds.
func (c *Checker) pause(ctx context.Context) bool {
	if c.devDelay <= 0 {
		return ctx.Err() != nil
	}
	select {
	case <-time.After(c.devDelay):
		return ctx.Err() != nil
	case <-ctx.Done():
		return true
	}
}

// CheckSessions runs the full check for studentID. Cancellation via ctx is
// re-checked after every remote boundary; a cancelled check never performs
// the attendance write.
func (c *Checker) CheckSessions(ctx context.Context, studentID string) Result {
	if studentID == "" {
		metrics.ChecksTotal.WithLabelValues("unauthenticated").Inc()
		return Result{Success: false, Message: "not signed in"}
	}
	if ctx.Err() != nil {
		metrics.ChecksTotal.WithLabelValues("cancelled").Inc()
		return cancelledResult()
	}

	classIDs, err := c.store.EnrolledClassIDs(ctx, studentID)
	if err != nil {
		metrics.ChecksTotal.WithLabelValues("error").Inc()
		return Result{Success: false, Message: "could not load your classes"}
	}
	if c.pause(ctx) {
		metrics.ChecksTotal.WithLabelValues("cancelled").Inc()
		return cancelledResult()
	}

	sessions, err := c.store.ActiveSessions(ctx, classIDs)
	if err != nil {
		metrics.ChecksTotal.WithLabelValues("error").Inc()
		return Result{Success: false, Message: "could not load active sessions"}
	}
	if c.pause(ctx) {
		metrics.ChecksTotal.WithLabelValues("cancelled").Inc()
		return cancelledResult()
	}

	// Absence of a location fix is a known state, not a failure.
	fix, ok := c.fixes.Latest()
	if !ok {
		metrics.ChecksTotal.WithLabelValues("no_location").Inc()
		return Result{Success: true, IsAttending: false, Message: "waiting for your location"}
	}
	if len(sessions) == 0 {
		metrics.ChecksTotal.WithLabelValues("no_sessions").Inc()
		return Result{Success: true, IsAttending: false, Message: "no active class sessions right now"}
	}

	// Candidates are sessions whose geofence contains the fix; among them the
	// closest wins.
	var best *session.Session
	bestDist := 0.0
	for i := range sessions {
		s := sessions[i]
		dist := geo.DistanceMeters(s.Location, fix.Coordinate)
		if !geo.ValidateLocationForSession(s.Location, fix.Coordinate, s.RadiusM) {
			continue
		}
		if best == nil || dist < bestDist {
			best = &sessions[i]
			bestDist = dist
		}
	}
	if best == nil {
		metrics.ChecksTotal.WithLabelValues("out_of_range").Inc()
		return Result{Success: true, IsAttending: false, Message: "you are not at any active class location"}
	}

	if ctx.Err() != nil {
		metrics.ChecksTotal.WithLabelValues("cancelled").Inc()
		return cancelledResult()
	}

	return c.recordCheckIn(ctx, studentID, *best)
}

// recordCheckIn writes the attendance record. The write path re-validates
// against a fresh fix instead of trusting the candidate pass; position may
// have drifted during the remote round trips.
func (c *Checker) recordCheckIn(ctx context.Context, studentID string, s session.Session) Result {
	fix, ok := c.fixes.Latest()
	if !ok {
		metrics.ChecksTotal.WithLabelValues("no_location").Inc()
		return Result{Success: true, IsAttending: false, Message: "waiting for your location"}
	}

	status := session.RecordCheckedIn
	if !geo.ValidateLocationForSession(s.Location, fix.Coordinate, s.RadiusM) {
		status = session.RecordFailedLocation
	}

	now := time.Now()
	rec := session.AttendanceRecord{
		SessionID:       s.ID,
		StudentID:       studentID,
		ClassID:         s.ClassID,
		CheckInTime:     now,
		CheckInLocation: fix.Coordinate,
		Status:          status,
		LastUpdated:     now,
	}
	if err := c.store.PutAttendance(ctx, rec); err != nil {
		log.Printf("attendance write failed for session %s: %v", s.ID, err)
		metrics.ChecksTotal.WithLabelValues("error").Inc()
		return Result{Success: false, IsAttending: false, Message: "could not record your attendance"}
	}
	metrics.CheckInsTotal.WithLabelValues(string(status)).Inc()

	if status != session.RecordCheckedIn {
		metrics.ChecksTotal.WithLabelValues("failed_location").Inc()
		return Result{
			Success:     true,
			IsAttending: false,
			SessionID:   s.ID,
			ClassID:     s.ClassID,
			Message:     "you moved outside the class area before check-in completed",
		}
	}

	if c.local != nil {
		info := session.ActiveSessionInfo{
			SessionID:     s.ID,
			ClassID:       s.ClassID,
			CheckInTime:   now,
			LastUpdated:   now,
			JoinTimestamp: now,
		}
		if err := c.local.Save(ctx, studentID, info); err != nil {
			log.Printf("local session save failed: %v", err)
		}
	}

	if c.queue != nil {
		msg, err := queue.NewCheckInMessage(queue.CheckInEvent{SessionID: s.ID, StudentID: studentID, At: now})
		if err == nil {
			if err := c.queue.Publish(ctx, msg); err != nil {
				log.Printf("checkin event publish failed: %v", err)
			}
		}
	}

	metrics.ChecksTotal.WithLabelValues("checked_in").Inc()
	return Result{
		Success:     true,
		IsAttending: true,
		SessionID:   s.ID,
		ClassID:     s.ClassID,
		Message:     "checked in",
	}
}
