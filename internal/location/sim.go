package location

import (
	"context"
	"sync"
	"time"

	"geoattend/internal/geo"
)

// StaticProvider serves a settable fixed position. Used by the dev agent and
// by tests that need to move the device between samples.
type StaticProvider struct {
	mu     sync.RWMutex
	fix    Fix
	denied bool
}

// NewStaticProvider creates a provider positioned at c.
func NewStaticProvider(c geo.Coordinate) *StaticProvider {
	return &StaticProvider{fix: Fix{Coordinate: c, AccuracyM: 5, Timestamp: time.Now()}}
}

// SetFix moves the simulated device.
func (p *StaticProvider) SetFix(c geo.Coordinate) {
	p.mu.Lock()
	p.fix = Fix{Coordinate: c, AccuracyM: 5, Timestamp: time.Now()}
	p.mu.Unlock()
}

// Deny toggles permission refusal for subsequent RequestPermission calls.
func (p *StaticProvider) Deny(denied bool) {
	p.mu.Lock()
	p.denied = denied
	p.mu.Unlock()
}

// RequestPermission honors the configured denial flag.
func (p *StaticProvider) RequestPermission(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.denied {
		return ErrPermissionDenied
	}
	return nil
}

// Current returns the simulated position.
func (p *StaticProvider) Current(ctx context.Context) (Fix, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.denied {
		return Fix{}, ErrPermissionDenied
	}
	return p.fix, nil
}

// Watch emits the latest position on every interval tick.
func (p *StaticProvider) Watch(ctx context.Context, opts WatchOptions) (<-chan Fix, error) {
	if err := p.RequestPermission(ctx); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	out := make(chan Fix, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(opts.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fix, err := p.Current(ctx)
				if err != nil {
					return
				}
				select {
				case out <- fix:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// ScriptProvider replays a fixed sequence of positions, holding the last one
// once the script is exhausted. Each Current call or watch tick advances it.
type ScriptProvider struct {
	mu    sync.Mutex
	steps []geo.Coordinate
	idx   int
}

// NewScriptProvider creates a provider that walks through steps in order.
func NewScriptProvider(steps []geo.Coordinate) *ScriptProvider {
	return &ScriptProvider{steps: steps}
}

// RequestPermission always grants.
func (p *ScriptProvider) RequestPermission(ctx context.Context) error { return nil }

// Current returns the next scripted position.
func (p *ScriptProvider) Current(ctx context.Context) (Fix, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.steps) == 0 {
		return Fix{}, ErrPermissionDenied
	}
	c := p.steps[p.idx]
	if p.idx < len(p.steps)-1 {
		p.idx++
	}
	return Fix{Coordinate: c, AccuracyM: 5, Timestamp: time.Now()}, nil
}

// Watch advances the script on every interval tick.
func (p *ScriptProvider) Watch(ctx context.Context, opts WatchOptions) (<-chan Fix, error) {
	opts = opts.withDefaults()
	out := make(chan Fix, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(opts.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fix, err := p.Current(ctx)
				if err != nil {
					return
				}
				select {
				case out <- fix:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
