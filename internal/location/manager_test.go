package location

import (
	"context"
	"errors"
	"testing"
	"time"

	"geoattend/internal/geo"
)

var here = geo.Coordinate{Latitude: 37.7749, Longitude: -122.4194}
var there = geo.Coordinate{Latitude: 37.7849, Longitude: -122.4194}

func TestManagerResolvesImmediateFix(t *testing.T) {
	provider := NewStaticProvider(here)
	m := NewManager(provider, WatchOptions{Interval: 10 * time.Millisecond}, false)
	t.Cleanup(m.Stop)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	fix, ok := m.Latest()
	if !ok {
		t.Fatal("no fix after start")
	}
	if fix.Coordinate != here {
		t.Errorf("fix = %+v, want %+v", fix.Coordinate, here)
	}
	if m.Loading() {
		t.Error("still loading after start")
	}
}

func TestManagerTracksWatchUpdates(t *testing.T) {
	provider := NewStaticProvider(here)
	m := NewManager(provider, WatchOptions{Interval: 10 * time.Millisecond}, false)
	t.Cleanup(m.Stop)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	provider.SetFix(there)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if fix, ok := m.Latest(); ok && fix.Coordinate == there {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("watch never delivered the moved position")
}

func TestPermissionDenialIsTerminal(t *testing.T) {
	provider := NewStaticProvider(here)
	provider.Deny(true)
	m := NewManager(provider, WatchOptions{Interval: 10 * time.Millisecond}, false)
	t.Cleanup(m.Stop)

	err := m.Start(context.Background())
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("start = %v, want ErrPermissionDenied", err)
	}
	if !errors.Is(m.Err(), ErrPermissionDenied) {
		t.Fatalf("manager error = %v, want ErrPermissionDenied", m.Err())
	}
	if _, ok := m.Latest(); ok {
		t.Error("denied manager produced a fix")
	}

	// Explicit retry after the user grants permission recovers the manager.
	provider.Deny(false)
	if err := m.RequestPermission(context.Background()); err != nil {
		t.Fatalf("permission retry: %v", err)
	}
	if m.Err() != nil {
		t.Errorf("error state = %v after retry, want nil", m.Err())
	}
	if _, ok := m.Latest(); !ok {
		t.Error("no fix after permission retry")
	}
}

func TestScriptProviderAdvances(t *testing.T) {
	p := NewScriptProvider([]geo.Coordinate{here, there})
	fix, err := p.Current(context.Background())
	if err != nil || fix.Coordinate != here {
		t.Fatalf("first fix = (%+v, %v)", fix.Coordinate, err)
	}
	fix, _ = p.Current(context.Background())
	if fix.Coordinate != there {
		t.Fatalf("second fix = %+v, want %+v", fix.Coordinate, there)
	}
	// Script holds its last position once exhausted.
	fix, _ = p.Current(context.Background())
	if fix.Coordinate != there {
		t.Fatalf("held fix = %+v, want %+v", fix.Coordinate, there)
	}
}
