package notify

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Notification is a local user-facing alert.
type Notification struct {
	ID    string
	Title string
	Body  string
}

// Scheduler delivers notifications now or after a delay, with cancel-by-id.
type Scheduler interface {
	// Now delivers immediately and returns the notification id.
	Now(title, body string) string
	// After schedules delivery and returns an id usable with Cancel.
	After(delay time.Duration, title, body string) string
	// Cancel drops a scheduled notification. Unknown ids are ignored.
	Cancel(id string)
}

// Sink receives notifications once they fire.
type Sink interface {
	Deliver(n Notification)
}

// LocalScheduler schedules with in-process timers and hands fired
// notifications to a sink.
type LocalScheduler struct {
	sink Sink

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// NewLocalScheduler creates a scheduler delivering through sink.
func NewLocalScheduler(sink Sink) *LocalScheduler {
	return &LocalScheduler{sink: sink, pending: make(map[string]*time.Timer)}
}

// Now implements Scheduler.
func (s *LocalScheduler) Now(title, body string) string {
	id := uuid.NewString()
	s.sink.Deliver(Notification{ID: id, Title: title, Body: body})
	return id
}

// After implements Scheduler.
func (s *LocalScheduler) After(delay time.Duration, title, body string) string {
	id := uuid.NewString()
	s.mu.Lock()
	s.pending[id] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		_, live := s.pending[id]
		delete(s.pending, id)
		s.mu.Unlock()
		if live {
			s.sink.Deliver(Notification{ID: id, Title: title, Body: body})
		}
	})
	s.mu.Unlock()
	return id
}

// Cancel implements Scheduler.
func (s *LocalScheduler) Cancel(id string) {
	s.mu.Lock()
	if t, ok := s.pending[id]; ok {
		t.Stop()
		delete(s.pending, id)
	}
	s.mu.Unlock()
}

// PendingCount reports notifications waiting to fire.
func (s *LocalScheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// ConsoleSink logs notifications; the dev agent's default.
type ConsoleSink struct{}

// Deliver implements Sink.
func (ConsoleSink) Deliver(n Notification) {
	log.Printf("notification: %s: %s", n.Title, n.Body)
}
