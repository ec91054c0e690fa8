package notify

import (
	"sync"
	"testing"
	"time"
)

type recordSink struct {
	mu        sync.Mutex
	delivered []Notification
}

func (s *recordSink) Deliver(n Notification) {
	s.mu.Lock()
	s.delivered = append(s.delivered, n)
	s.mu.Unlock()
}

func (s *recordSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delivered)
}

func TestNowDeliversImmediately(t *testing.T) {
	sink := &recordSink{}
	sched := NewLocalScheduler(sink)

	id := sched.Now("Outside Class Area", "return soon")
	if id == "" {
		t.Fatal("expected a notification id")
	}
	if sink.count() != 1 {
		t.Fatalf("delivered = %d, want 1", sink.count())
	}
}

func TestAfterFires(t *testing.T) {
	sink := &recordSink{}
	sched := NewLocalScheduler(sink)

	sched.After(20*time.Millisecond, "Auto Checked Out", "grace expired")
	if sink.count() != 0 {
		t.Fatal("scheduled notification fired early")
	}
	time.Sleep(60 * time.Millisecond)
	if sink.count() != 1 {
		t.Fatalf("delivered = %d, want 1", sink.count())
	}
	if sched.PendingCount() != 0 {
		t.Errorf("pending = %d after fire, want 0", sched.PendingCount())
	}
}

func TestCancelPreventsDelivery(t *testing.T) {
	sink := &recordSink{}
	sched := NewLocalScheduler(sink)

	id := sched.After(20*time.Millisecond, "Auto Checked Out", "grace expired")
	sched.Cancel(id)
	time.Sleep(60 * time.Millisecond)
	if sink.count() != 0 {
		t.Fatalf("delivered = %d after cancel, want 0", sink.count())
	}
	// Cancelling twice or cancelling unknown ids is harmless.
	sched.Cancel(id)
	sched.Cancel("missing")
}
