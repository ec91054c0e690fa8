package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"geoattend/internal/session"
)

// Postgres persists the session and attendance documents in Postgres and
// carries session-change pushes over redis pub/sub.
type Postgres struct {
	db  *sql.DB
	rdb *redis.Client
}

// NewPostgres creates a store over an open connection pool. rdb may be nil,
// in which case SubscribeSession is unavailable.
func NewPostgres(db *sql.DB, rdb *redis.Client) *Postgres {
	return &Postgres{db: db, rdb: rdb}
}

func sessionChannel(sessionID string) string {
	return "geoattend:sessions:" + sessionID
}

// EnrolledClassIDs implements Store.
func (p *Postgres) EnrolledClassIDs(ctx context.Context, studentID string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT class_id FROM user_classes WHERE student_id = $1
	`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ActiveSessions implements Store.
func (p *Postgres) ActiveSessions(ctx context.Context, classIDs []string) ([]session.Session, error) {
	if len(classIDs) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(classIDs))
	args := make([]any, len(classIDs))
	for i, id := range classIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, class_id, teacher_id, start_time, end_time, status, lat, lng, radius_m
		FROM sessions
		WHERE status = 'active' AND class_id IN (`+strings.Join(placeholders, ",")+`)
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []session.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (session.Session, error) {
	var s session.Session
	var endTime sql.NullTime
	err := row.Scan(&s.ID, &s.ClassID, &s.TeacherID, &s.StartTime, &endTime,
		&s.Status, &s.Location.Latitude, &s.Location.Longitude, &s.RadiusM)
	if err != nil {
		return session.Session{}, err
	}
	if endTime.Valid {
		s.EndTime = &endTime.Time
	}
	return s, nil
}

// GetSession implements Store.
func (p *Postgres) GetSession(ctx context.Context, sessionID string) (*session.Session, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, class_id, teacher_id, start_time, end_time, status, lat, lng, radius_m
		FROM sessions WHERE id = $1
	`, sessionID)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// PutSession upserts a session and publishes the change. Used by seeding and
// teacher-side tooling; the student client never writes sessions.
func (p *Postgres) PutSession(ctx context.Context, s session.Session) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO sessions (id, class_id, teacher_id, start_time, end_time, status, lat, lng, radius_m)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			end_time = EXCLUDED.end_time,
			lat = EXCLUDED.lat,
			lng = EXCLUDED.lng,
			radius_m = EXCLUDED.radius_m
	`, s.ID, s.ClassID, s.TeacherID, s.StartTime, s.EndTime, s.Status,
		s.Location.Latitude, s.Location.Longitude, s.RadiusM)
	if err != nil {
		return err
	}
	if p.rdb != nil {
		payload, err := json.Marshal(s)
		if err == nil {
			if err := p.rdb.Publish(ctx, sessionChannel(s.ID), payload).Err(); err != nil {
				log.Printf("session publish failed for %s: %v", s.ID, err)
			}
		}
	}
	return nil
}

// GetAttendance implements Store.
func (p *Postgres) GetAttendance(ctx context.Context, sessionID, studentID string) (*session.AttendanceRecord, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT session_id, student_id, class_id, check_in_time, lat, lng,
		       status, is_gps_verified, duration_sec, check_out_time, last_updated
		FROM attendance WHERE session_id = $1 AND student_id = $2
	`, sessionID, studentID)
	var rec session.AttendanceRecord
	var checkOut sql.NullTime
	err := row.Scan(&rec.SessionID, &rec.StudentID, &rec.ClassID, &rec.CheckInTime,
		&rec.CheckInLocation.Latitude, &rec.CheckInLocation.Longitude,
		&rec.Status, &rec.IsGPSVerified, &rec.DurationSec, &checkOut, &rec.LastUpdated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if checkOut.Valid {
		rec.CheckOutTime = &checkOut.Time
	}
	return &rec, nil
}

// PutAttendance implements Store.
func (p *Postgres) PutAttendance(ctx context.Context, rec session.AttendanceRecord) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO attendance (session_id, student_id, class_id, check_in_time, lat, lng,
		                        status, is_gps_verified, duration_sec, check_out_time, last_updated)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW())
		ON CONFLICT (session_id, student_id) DO UPDATE SET
			status = EXCLUDED.status,
			is_gps_verified = EXCLUDED.is_gps_verified,
			duration_sec = EXCLUDED.duration_sec,
			check_out_time = EXCLUDED.check_out_time,
			last_updated = NOW()
	`, rec.SessionID, rec.StudentID, rec.ClassID, rec.CheckInTime,
		rec.CheckInLocation.Latitude, rec.CheckInLocation.Longitude,
		rec.Status, rec.IsGPSVerified, rec.DurationSec, rec.CheckOutTime)
	return err
}

// CheckOut implements Store.
func (p *Postgres) CheckOut(ctx context.Context, sessionID, studentID string, status session.RecordStatus, durationSec int64) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE attendance
		SET status = $3, duration_sec = $4, check_out_time = NOW(), last_updated = NOW()
		WHERE session_id = $1 AND student_id = $2
	`, sessionID, studentID, status, durationSec)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchAttendance implements Store.
func (p *Postgres) TouchAttendance(ctx context.Context, sessionID, studentID string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE attendance SET last_updated = NOW()
		WHERE session_id = $1 AND student_id = $2
	`, sessionID, studentID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetVerified records the worker's verdict for a check-in.
func (p *Postgres) SetVerified(ctx context.Context, sessionID, studentID string, status session.RecordStatus, verified bool) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE attendance
		SET status = $3, is_gps_verified = $4, last_updated = NOW()
		WHERE session_id = $1 AND student_id = $2
	`, sessionID, studentID, status, verified)
	return err
}

// SubscribeSession implements Store using redis pub/sub.
func (p *Postgres) SubscribeSession(ctx context.Context, sessionID string) (<-chan session.Session, func(), error) {
	if p.rdb == nil {
		return nil, nil, errors.New("store: no redis client for subscriptions")
	}
	sub := p.rdb.Subscribe(ctx, sessionChannel(sessionID))
	// Force the subscription to establish before returning.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, err
	}
	out := make(chan session.Session, 4)
	done := make(chan struct{})
	go func() {
		defer close(out)
		msgs := sub.Channel()
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var s session.Session
				if err := json.Unmarshal([]byte(msg.Payload), &s); err != nil {
					log.Printf("bad session payload on %s: %v", msg.Channel, err)
					continue
				}
				select {
				case out <- s:
				case <-time.After(time.Second):
				case <-done:
					return
				}
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			_ = sub.Close()
			close(done)
		})
	}
	return out, cancel, nil
}
