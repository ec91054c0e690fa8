package store

import (
	"context"
	"testing"
	"time"

	"geoattend/internal/geo"
	"geoattend/internal/session"
)

func activeSession(id, classID string) session.Session {
	return session.Session{
		ID:        id,
		ClassID:   classID,
		TeacherID: "teacher-1",
		StartTime: time.Now(),
		Status:    session.StatusActive,
		Location:  geo.Coordinate{Latitude: 37.7749, Longitude: -122.4194},
		RadiusM:   100,
	}
}

func TestActiveSessionsFiltersByClassAndStatus(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Enroll("student-1", "class-a")
	m.PutSession(activeSession("sess-1", "class-a"))
	m.PutSession(activeSession("sess-2", "class-b")) // not enrolled
	ended := activeSession("sess-3", "class-a")
	ended.Status = session.StatusEnded
	m.PutSession(ended)

	classes, err := m.EnrolledClassIDs(ctx, "student-1")
	if err != nil {
		t.Fatalf("enrolled classes: %v", err)
	}
	sessions, err := m.ActiveSessions(ctx, classes)
	if err != nil {
		t.Fatalf("active sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "sess-1" {
		t.Fatalf("active sessions = %+v, want just sess-1", sessions)
	}
}

func TestAttendanceUpsertAndCheckOut(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.PutSession(activeSession("sess-1", "class-a"))

	if err := m.CheckOut(ctx, "sess-1", "student-1", session.RecordAbsent, 10); err != ErrNotFound {
		t.Fatalf("checkout without record = %v, want ErrNotFound", err)
	}

	rec := session.AttendanceRecord{
		SessionID:   "sess-1",
		StudentID:   "student-1",
		ClassID:     "class-a",
		CheckInTime: time.Now(),
		Status:      session.RecordCheckedIn,
	}
	if err := m.PutAttendance(ctx, rec); err != nil {
		t.Fatalf("put attendance: %v", err)
	}
	if err := m.CheckOut(ctx, "sess-1", "student-1", session.RecordAbsent, 120); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	got, err := m.GetAttendance(ctx, "sess-1", "student-1")
	if err != nil || got == nil {
		t.Fatalf("get attendance = (%+v, %v)", got, err)
	}
	if got.Status != session.RecordAbsent || got.DurationSec != 120 || got.CheckOutTime == nil {
		t.Errorf("record after checkout = %+v", got)
	}
}

func TestSubscribeSessionReceivesUpdates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewMemory()
	m.PutSession(activeSession("sess-1", "class-a"))

	updates, stop, err := m.SubscribeSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer stop()

	ended := activeSession("sess-1", "class-a")
	ended.Status = session.StatusEnded
	m.PutSession(ended)

	select {
	case s := <-updates:
		if s.Status != session.StatusEnded {
			t.Errorf("pushed status = %s, want ended", s.Status)
		}
	case <-time.After(time.Second):
		t.Fatal("no session update received")
	}

	stop()
	stop() // idempotent
}
