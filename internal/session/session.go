package session

import (
	"time"

	"geoattend/internal/geo"
)

// Status is the lifecycle state of a class session.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusActive    Status = "active"
	StatusEnded     Status = "ended"
	StatusCancelled Status = "cancelled"
)

// RecordStatus is the presence outcome recorded for one student in one session.
type RecordStatus string

const (
	RecordPending        RecordStatus = "pending"
	RecordCheckedIn      RecordStatus = "checked_in"
	RecordVerified       RecordStatus = "verified"
	RecordRejoined       RecordStatus = "rejoined"
	RecordFailedLocation RecordStatus = "failed_location"
	RecordFailedOther    RecordStatus = "failed_other"
	RecordAbsent         RecordStatus = "absent"
	RecordLeftEarly      RecordStatus = "checked_out_early_before_verification"
)

// Resumable reports whether a persisted active-session belief may be trusted
// when the remote record carries this status.
func (s RecordStatus) Resumable() bool {
	switch s {
	case RecordCheckedIn, RecordVerified, RecordRejoined:
		return true
	}
	return false
}

// Session is the authoritative class meeting document. The student client
// only reads it; all writes happen through the attendance subcollection.
type Session struct {
	ID        string         `json:"session_id"`
	ClassID   string         `json:"class_id"`
	TeacherID string         `json:"teacher_id"`
	StartTime time.Time      `json:"start_time"`
	EndTime   *time.Time     `json:"end_time,omitempty"`
	Status    Status         `json:"status"`
	Location  geo.Coordinate `json:"location"`
	RadiusM   float64        `json:"radius_m"`
}

// Active reports whether the session currently accepts check-ins.
func (s Session) Active() bool { return s.Status == StatusActive }

// AttendanceRecord is one student's presence outcome for one session.
// Document identity is the student id scoped under the session, so at most
// one record exists per (session, student) pair.
type AttendanceRecord struct {
	SessionID       string         `json:"session_id"`
	StudentID       string         `json:"student_id"`
	ClassID         string         `json:"class_id"`
	CheckInTime     time.Time      `json:"check_in_time"`
	CheckInLocation geo.Coordinate `json:"check_in_location"`
	Status          RecordStatus   `json:"status"`
	IsGPSVerified   bool           `json:"is_gps_verified"`
	DurationSec     int64          `json:"duration_sec"`
	CheckOutTime    *time.Time     `json:"check_out_time,omitempty"`
	LastUpdated     time.Time      `json:"last_updated"`
}

// ActiveSessionInfo mirrors a believed-active remote AttendanceRecord on the
// device. It must never be trusted without remote reconciliation.
type ActiveSessionInfo struct {
	SessionID     string    `json:"session_id"`
	ClassID       string    `json:"class_id"`
	CheckInTime   time.Time `json:"check_in_time"`
	LastUpdated   time.Time `json:"last_updated"`
	JoinTimestamp time.Time `json:"join_ts"` // local clock at join
	IsRejoin      bool      `json:"is_rejoin,omitempty"`
	DurationSec   int64     `json:"duration_sec,omitempty"`
	WasVerified   bool      `json:"was_verified,omitempty"`
}
