package agent

import (
	"context"
	"testing"
	"time"

	"geoattend/internal/checker"
	"geoattend/internal/geo"
	"geoattend/internal/localstate"
	"geoattend/internal/location"
	"geoattend/internal/monitor"
	"geoattend/internal/notify"
	"geoattend/internal/reconcile"
	"geoattend/internal/session"
	"geoattend/internal/store"
)

var classLoc = geo.Coordinate{Latitude: 37.7749, Longitude: -122.4194}

type nullSink struct{}

func (nullSink) Deliver(notify.Notification) {}

func newTestAgent(t *testing.T) (*Agent, *store.Memory, *location.StaticProvider) {
	t.Helper()
	return newTestAgentDelay(t, 0)
}

// newTestAgentDelay widens the checker's remote latency so tests can observe
// checks while they are still in flight.
func newTestAgentDelay(t *testing.T, checkDelay time.Duration) (*Agent, *store.Memory, *location.StaticProvider) {
	t.Helper()
	st := store.NewMemory()
	st.Enroll("student-1", "class-a")
	st.PutSession(session.Session{
		ID: "sess-1", ClassID: "class-a", TeacherID: "teacher-1",
		StartTime: time.Now(), Status: session.StatusActive,
		Location: classLoc, RadiusM: 100,
	})

	provider := location.NewStaticProvider(classLoc)
	locations := location.NewManager(provider, location.WatchOptions{Interval: 10 * time.Millisecond}, false)
	local := localstate.NewMemory()
	notifier := notify.NewLocalScheduler(nullSink{})

	a := &Agent{
		StudentID:  "student-1",
		Store:      st,
		Locations:  locations,
		Checker:    checker.New(st, locations, local, nil, checkDelay),
		Watcher:    monitor.New(st, locations, notifier, local, monitor.Config{SampleInterval: 10 * time.Millisecond, Grace: time.Second}),
		Reconciler: reconcile.New(st, local),
		Local:      local,
	}
	t.Cleanup(a.Shutdown)
	return a, st, provider
}

func TestCheckInThenStatusThenLeaveEarly(t *testing.T) {
	ctx := context.Background()
	a, st, _ := newTestAgent(t)
	if err := a.Startup(ctx); err != nil {
		t.Fatalf("startup: %v", err)
	}

	res := a.RunCheck(ctx)
	if !res.Success || !res.IsAttending {
		t.Fatalf("check result = %+v, want attending", res)
	}

	status := a.Snapshot()
	if status.ActiveSession == nil || status.ActiveSession.SessionID != "sess-1" {
		t.Fatalf("status = %+v, want active sess-1", status)
	}
	if status.Monitoring != monitor.InBounds {
		t.Errorf("monitoring state = %s, want in_bounds", status.Monitoring)
	}

	if err := a.LeaveEarly(ctx); err != nil {
		t.Fatalf("leave early: %v", err)
	}
	rec, _ := st.GetAttendance(ctx, "sess-1", "student-1")
	if rec == nil || rec.Status != session.RecordLeftEarly {
		t.Fatalf("record = %+v, want checked_out_early_before_verification", rec)
	}
	if a.Snapshot().ActiveSession != nil {
		t.Error("active session survived leave early")
	}
	if a.Watcher.State() != monitor.Unmonitored {
		t.Errorf("watcher state = %s after leave, want unmonitored", a.Watcher.State())
	}

	if err := a.LeaveEarly(ctx); err != ErrNotAttending {
		t.Errorf("second leave = %v, want ErrNotAttending", err)
	}
}

func TestSupersededCheckDoesNotCancelSuccessor(t *testing.T) {
	ctx := context.Background()
	a, st, _ := newTestAgentDelay(t, 100*time.Millisecond)
	if err := a.Startup(ctx); err != nil {
		t.Fatalf("startup: %v", err)
	}

	firstDone := make(chan checker.Result, 1)
	go func() { firstDone <- a.RunCheck(ctx) }()
	time.Sleep(30 * time.Millisecond)

	// The second check supersedes the first; the first's cleanup must not
	// cancel it on the way out.
	second := a.RunCheck(ctx)
	first := <-firstDone

	if !first.Cancelled {
		t.Fatalf("superseded check = %+v, want cancelled", first)
	}
	if second.Cancelled {
		t.Fatalf("second check = %+v, cancelled without a user cancel", second)
	}
	if !second.Success || !second.IsAttending {
		t.Fatalf("second check = %+v, want successful check-in", second)
	}
	rec, _ := st.GetAttendance(ctx, "sess-1", "student-1")
	if rec == nil || rec.Status != session.RecordCheckedIn {
		t.Fatalf("record = %+v, want checked_in", rec)
	}
}

func TestStartupResumesPersistedSession(t *testing.T) {
	ctx := context.Background()
	a, st, _ := newTestAgent(t)

	join := time.Now().Add(-5 * time.Minute)
	if err := st.PutAttendance(ctx, session.AttendanceRecord{
		SessionID: "sess-1", StudentID: "student-1", ClassID: "class-a",
		CheckInTime: join, Status: session.RecordCheckedIn,
	}); err != nil {
		t.Fatalf("seed attendance: %v", err)
	}
	if err := a.Local.Save(ctx, "student-1", session.ActiveSessionInfo{
		SessionID: "sess-1", ClassID: "class-a",
		CheckInTime: join, JoinTimestamp: join,
	}); err != nil {
		t.Fatalf("seed local state: %v", err)
	}

	if err := a.Startup(ctx); err != nil {
		t.Fatalf("startup: %v", err)
	}
	status := a.Snapshot()
	if status.ActiveSession == nil || status.ActiveSession.SessionID != "sess-1" {
		t.Fatalf("status = %+v, want resumed sess-1", status)
	}
	if status.ActiveSession.DurationSec < 299 {
		t.Errorf("resumed duration = %ds, want ~300s", status.ActiveSession.DurationSec)
	}
	if a.Watcher.SessionID() != "sess-1" {
		t.Errorf("watcher session = %q, want sess-1", a.Watcher.SessionID())
	}
}

func TestStartupDiscardsStaleSession(t *testing.T) {
	ctx := context.Background()
	a, _, _ := newTestAgent(t)

	if err := a.Local.Save(ctx, "student-1", session.ActiveSessionInfo{
		SessionID: "sess-gone", ClassID: "class-a", JoinTimestamp: time.Now(),
	}); err != nil {
		t.Fatalf("seed local state: %v", err)
	}

	if err := a.Startup(ctx); err != nil {
		t.Fatalf("startup: %v", err)
	}
	if a.Snapshot().ActiveSession != nil {
		t.Error("stale session was resumed")
	}
	if info, _ := a.Local.Load(ctx, "student-1"); info != nil {
		t.Errorf("stale local state survived: %+v", info)
	}
}
