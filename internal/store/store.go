package store

import (
	"context"

	"geoattend/internal/session"
)

// Store is the document-store surface the attendance core depends on.
// Implementations: Memory (dev/tests) and Postgres (backed by redis pub/sub
// for the session subscription feed).
type Store interface {
	// EnrolledClassIDs lists the class ids a student is enrolled in.
	EnrolledClassIDs(ctx context.Context, studentID string) ([]string, error)
	// ActiveSessions returns sessions with status "active" across the classes.
	ActiveSessions(ctx context.Context, classIDs []string) ([]session.Session, error)
	// GetSession returns a session by id, or (nil, nil) when absent.
	GetSession(ctx context.Context, sessionID string) (*session.Session, error)
	// GetAttendance returns the one record for (session, student), or (nil, nil).
	GetAttendance(ctx context.Context, sessionID, studentID string) (*session.AttendanceRecord, error)
	// PutAttendance upserts the record keyed by (session, student).
	PutAttendance(ctx context.Context, rec session.AttendanceRecord) error
	// CheckOut finalizes a record with a terminal status and total duration.
	CheckOut(ctx context.Context, sessionID, studentID string, status session.RecordStatus, durationSec int64) error
	// TouchAttendance refreshes last_updated on an existing record.
	TouchAttendance(ctx context.Context, sessionID, studentID string) error
	// SubscribeSession pushes session document changes until cancel is called
	// or ctx ends.
	SubscribeSession(ctx context.Context, sessionID string) (<-chan session.Session, func(), error)
}
