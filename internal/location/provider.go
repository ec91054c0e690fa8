package location

import (
	"context"
	"errors"
	"time"

	"geoattend/internal/geo"
)

// ErrPermissionDenied is returned when the platform location permission is
// refused. It is terminal until RequestPermission is explicitly retried.
var ErrPermissionDenied = errors.New("location permission denied")

// Fix is one resolved device position.
type Fix struct {
	Coordinate geo.Coordinate
	AccuracyM  float64
	Timestamp  time.Time
}

// WatchOptions tunes a continuous location subscription.
type WatchOptions struct {
	Interval     time.Duration // target update cadence, default 1s
	MinDistanceM float64       // movement threshold, default 1m
}

func (o WatchOptions) withDefaults() WatchOptions {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.MinDistanceM <= 0 {
		o.MinDistanceM = 1
	}
	return o
}

// Provider abstracts the permission-gated platform geolocation service.
type Provider interface {
	// RequestPermission asks for foreground location access. A denial is
	// reported as ErrPermissionDenied and is not retried internally.
	RequestPermission(ctx context.Context) error
	// Current resolves a single fix.
	Current(ctx context.Context) (Fix, error)
	// Watch opens a continuous subscription. The channel closes when ctx is
	// cancelled or the provider shuts down.
	Watch(ctx context.Context, opts WatchOptions) (<-chan Fix, error)
}
