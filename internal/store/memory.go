package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"geoattend/internal/session"
)

// ErrNotFound is returned by write paths that require an existing record.
var ErrNotFound = errors.New("store: not found")

type attendanceKey struct {
	sessionID string
	studentID string
}

// Memory is an in-process Store with channel fan-out subscriptions. It backs
// the dev agent and the package tests.
type Memory struct {
	mu          sync.RWMutex
	sessions    map[string]session.Session
	attendance  map[attendanceKey]session.AttendanceRecord
	enrollments map[string][]string // studentID -> class ids
	subscribers map[string]map[int]chan session.Session
	nextSub     int

	// FailWrites forces attendance writes to error; tests use it to exercise
	// the degraded check-in path.
	FailWrites bool
	// FailReads forces reads to error, for reconciler fail-safe tests.
	FailReads bool
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		sessions:    make(map[string]session.Session),
		attendance:  make(map[attendanceKey]session.AttendanceRecord),
		enrollments: make(map[string][]string),
		subscribers: make(map[string]map[int]chan session.Session),
	}
}

// Enroll adds a student to a class.
func (m *Memory) Enroll(studentID, classID string) {
	m.mu.Lock()
	m.enrollments[studentID] = append(m.enrollments[studentID], classID)
	m.mu.Unlock()
}

// PutSession upserts a session document and notifies subscribers.
func (m *Memory) PutSession(s session.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	// Sends stay under the lock so they serialize with subscription teardown;
	// a slow subscriber drops intermediate updates instead of blocking.
	for _, ch := range m.subscribers[s.ID] {
		select {
		case ch <- s:
		default:
		}
	}
}

// EnrolledClassIDs implements Store.
func (m *Memory) EnrolledClassIDs(ctx context.Context, studentID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailReads {
		return nil, errors.New("store: read failed")
	}
	out := make([]string, len(m.enrollments[studentID]))
	copy(out, m.enrollments[studentID])
	return out, nil
}

// ActiveSessions implements Store.
func (m *Memory) ActiveSessions(ctx context.Context, classIDs []string) ([]session.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailReads {
		return nil, errors.New("store: read failed")
	}
	classes := make(map[string]bool, len(classIDs))
	for _, id := range classIDs {
		classes[id] = true
	}
	var out []session.Session
	for _, s := range m.sessions {
		if s.Active() && classes[s.ClassID] {
			out = append(out, s)
		}
	}
	return out, nil
}

// GetSession implements Store.
func (m *Memory) GetSession(ctx context.Context, sessionID string) (*session.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailReads {
		return nil, errors.New("store: read failed")
	}
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

// GetAttendance implements Store.
func (m *Memory) GetAttendance(ctx context.Context, sessionID, studentID string) (*session.AttendanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailReads {
		return nil, errors.New("store: read failed")
	}
	rec, ok := m.attendance[attendanceKey{sessionID, studentID}]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// PutAttendance implements Store.
func (m *Memory) PutAttendance(ctx context.Context, rec session.AttendanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return errors.New("store: write failed")
	}
	rec.LastUpdated = time.Now()
	m.attendance[attendanceKey{rec.SessionID, rec.StudentID}] = rec
	return nil
}

// CheckOut implements Store.
func (m *Memory) CheckOut(ctx context.Context, sessionID, studentID string, status session.RecordStatus, durationSec int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return errors.New("store: write failed")
	}
	key := attendanceKey{sessionID, studentID}
	rec, ok := m.attendance[key]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	rec.Status = status
	rec.DurationSec = durationSec
	rec.CheckOutTime = &now
	rec.LastUpdated = now
	m.attendance[key] = rec
	return nil
}

// TouchAttendance implements Store.
func (m *Memory) TouchAttendance(ctx context.Context, sessionID, studentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := attendanceKey{sessionID, studentID}
	rec, ok := m.attendance[key]
	if !ok {
		return ErrNotFound
	}
	rec.LastUpdated = time.Now()
	m.attendance[key] = rec
	return nil
}

// SubscribeSession implements Store.
func (m *Memory) SubscribeSession(ctx context.Context, sessionID string) (<-chan session.Session, func(), error) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	ch := make(chan session.Session, 4)
	if m.subscribers[sessionID] == nil {
		m.subscribers[sessionID] = make(map[int]chan session.Session)
	}
	m.subscribers[sessionID][id] = ch
	m.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subscribers[sessionID], id)
			close(ch)
			m.mu.Unlock()
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ch, cancel, nil
}
