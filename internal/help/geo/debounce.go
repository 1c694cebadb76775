package geo

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrSuperseded is returned to a lookup that was replaced by a newer one
// before it finished.
var ErrSuperseded = errors.New("geocode: superseded by newer input")

// LookupFunc performs one geocoding call.
type LookupFunc func(ctx context.Context, query string) (*Coords, error)

// Debouncer waits for input to settle before looking it up. Each new call
// cancels the wait or the network call of the one before it.
type Debouncer struct {
	lookup LookupFunc
	delay  time.Duration

	mu     sync.Mutex
	seq    uint64
	cancel context.CancelFunc
}

// NewDebouncer wraps lookup; delay defaults to 400ms.
func NewDebouncer(lookup LookupFunc, delay time.Duration) *Debouncer {
	if delay <= 0 {
		delay = 400 * time.Millisecond
	}
	return &Debouncer{lookup: lookup, delay: delay}
}

// Lookup blocks for the debounce delay and then resolves query, unless a
// newer Lookup arrives first.
func (d *Debouncer) Lookup(ctx context.Context, query string) (*Coords, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
	}
	d.seq++
	mine := d.seq
	d.cancel = cancel
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		if d.seq == mine {
			d.cancel = nil
		}
		d.mu.Unlock()
	}()

	timer := time.NewTimer(d.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, d.cause(ctx, mine)
	case <-timer.C:
	}

	coords, err := d.lookup(ctx, query)
	if err != nil && ctx.Err() != nil {
		return nil, d.cause(ctx, mine)
	}
	return coords, err
}

// Cancel stops any pending lookup.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.seq++
}

func (d *Debouncer) cause(ctx context.Context, mine uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seq != mine {
		return ErrSuperseded
	}
	return ctx.Err()
}
