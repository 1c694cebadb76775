// Package realtime receives change notifications for the requests, offers
// and assists tables and fans them out to in-process subscribers.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Tables the workflow watches.
const (
	TableRequests = "requests"
	TableOffers   = "offers"
	TableAssists  = "assists"
)

// WatchedTables is the default subscription set.
var WatchedTables = []string{TableRequests, TableOffers, TableAssists}

// Logger provides minimal logging required by the realtime sources.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Change is one row-level notification. Record and OldRecord are kept raw;
// subscribers only use them to pick which cache keys to drop.
type Change struct {
	Table     string          `json:"table"`
	Type      string          `json:"type"`
	Record    json.RawMessage `json:"record,omitempty"`
	OldRecord json.RawMessage `json:"old_record,omitempty"`

	// Lagged is set by the broker on the first change a subscriber receives
	// after some were dropped for it. Anything derived before it is suspect.
	Lagged bool `json:"-"`
}

// ID returns the "id" column of the new row, or of the old row for deletes.
func (c Change) ID() string {
	for _, raw := range []json.RawMessage{c.Record, c.OldRecord} {
		if len(raw) == 0 {
			continue
		}
		var row struct {
			ID string `json:"id"`
		}
		if json.Unmarshal(raw, &row) == nil && row.ID != "" {
			return row.ID
		}
	}
	return ""
}

// Field returns a string column of the new row (or old row).
func (c Change) Field(name string) string {
	for _, raw := range []json.RawMessage{c.Record, c.OldRecord} {
		if len(raw) == 0 {
			continue
		}
		var row map[string]interface{}
		if json.Unmarshal(raw, &row) != nil {
			continue
		}
		if v, ok := row[name].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// Source delivers changes until ctx is done.
type Source interface {
	Run(ctx context.Context, publish func(Change)) error
}

// Broker fans changes out to subscribers. A subscriber that falls behind
// loses its oldest queued change rather than blocking the source, and the
// change queued in its place is marked Lagged.
type Broker struct {
	logger Logger

	mu     sync.RWMutex
	subs   map[int]*subscriber
	nextID int
}

type subscriber struct {
	ch chan Change

	// lagged records a drop whose marker could not be queued yet.
	lagged atomic.Bool
}

func NewBroker(logger Logger) *Broker {
	return &Broker{logger: logger, subs: make(map[int]*subscriber)}
}

// Subscribe registers a subscriber. The returned cancel closes the channel.
func (b *Broker) Subscribe(buffer int) (<-chan Change, func()) {
	if buffer <= 0 {
		buffer = 32
	}
	sub := &subscriber{ch: make(chan Change, buffer)}
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Publish delivers c to every subscriber without blocking.
func (b *Broker) Publish(c Change) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, sub := range b.subs {
		b.deliver(id, sub, c)
	}
}

func (b *Broker) deliver(id int, sub *subscriber, c Change) {
	c.Lagged = sub.lagged.Swap(false)
	select {
	case sub.ch <- c:
		return
	default:
	}

	// Full: make room by dropping the oldest queued change.
	select {
	case old := <-sub.ch:
		if b.logger != nil {
			b.logger.Errorf("realtime: subscriber %d is full, dropped %s change", id, old.Table)
		}
	default:
	}
	c.Lagged = true
	select {
	case sub.ch <- c:
	default:
		sub.lagged.Store(true)
		if b.logger != nil {
			b.logger.Errorf("realtime: subscriber %d is full, dropped %s change", id, c.Table)
		}
	}
}

// Run drives src with reconnect backoff until ctx is done.
func (b *Broker) Run(ctx context.Context, src Source) {
	backoff := time.Second
	for {
		started := time.Now()
		err := src.Run(ctx, b.Publish)
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) > time.Minute {
			backoff = time.Second
		}
		if err != nil && b.logger != nil {
			b.logger.Errorf("realtime: source stopped: %v; retrying in %s", err, backoff)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}
