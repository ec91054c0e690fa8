package localstate

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"geoattend/internal/session"
)

func openTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "local.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if info, err := s.Load(ctx, "student-1"); err != nil || info != nil {
		t.Fatalf("empty load = (%v, %v), want (nil, nil)", info, err)
	}

	join := time.Now().Add(-10 * time.Minute).Truncate(time.Second)
	saved := session.ActiveSessionInfo{
		SessionID:     "sess-1",
		ClassID:       "class-1",
		CheckInTime:   join,
		LastUpdated:   join,
		JoinTimestamp: join,
	}
	if err := s.Save(ctx, "student-1", saved); err != nil {
		t.Fatalf("save: %v", err)
	}

	info, err := s.Load(ctx, "student-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if info == nil || info.SessionID != "sess-1" || info.ClassID != "class-1" {
		t.Fatalf("loaded %+v, want saved info", info)
	}
	if !info.JoinTimestamp.Equal(join) {
		t.Errorf("join timestamp = %v, want %v", info.JoinTimestamp, join)
	}

	// Save again overwrites; one info per student.
	saved.SessionID = "sess-2"
	if err := s.Save(ctx, "student-1", saved); err != nil {
		t.Fatalf("second save: %v", err)
	}
	info, _ = s.Load(ctx, "student-1")
	if info.SessionID != "sess-2" {
		t.Errorf("session id = %s after overwrite, want sess-2", info.SessionID)
	}

	if err := s.Clear(ctx, "student-1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if info, _ := s.Load(ctx, "student-1"); info != nil {
		t.Errorf("load after clear = %+v, want nil", info)
	}
	// Clearing again is a no-op.
	if err := s.Clear(ctx, "student-1"); err != nil {
		t.Errorf("second clear: %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.Save(ctx, "s", session.ActiveSessionInfo{SessionID: "x"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	info, err := m.Load(ctx, "s")
	if err != nil || info == nil || info.SessionID != "x" {
		t.Fatalf("load = (%+v, %v)", info, err)
	}
	if err := m.Clear(ctx, "s"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if info, _ := m.Load(ctx, "s"); info != nil {
		t.Errorf("load after clear = %+v, want nil", info)
	}
}
