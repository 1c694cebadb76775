// Package projection is the read side of the workflow: a read-through cache
// of backend state that is invalidated, never patched, when a change
// notification arrives.
package projection

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"neighborly/internal/help/gateway"
	"neighborly/internal/help/realtime"
	"neighborly/internal/help/timeutil"
	"neighborly/internal/models"
)

// Logger provides minimal logging required by the projection.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Cache scopes. Each scope has its own generation counter; scopeEpoch is
// folded into every key.
const (
	ScopeFeed    = "feed"
	scopeEpoch   = "epoch"
	scopeRequest = "request:"
	scopeOffers  = "offers:"
	scopeAssist  = "assist:"
	scopeDetails = "details:"
)

func RequestScope(id string) string       { return scopeRequest + id }
func OffersScope(requestID string) string { return scopeOffers + requestID }
func AssistScope(id string) string        { return scopeAssist + id }
func DetailsScope(viewerID string) string { return scopeDetails + viewerID }

// Projection serves reads from the cache and falls through to the backend.
// Concurrent misses for the same key share one backend call.
type Projection struct {
	backend gateway.Backend
	store   Store
	ttl     time.Duration
	clock   timeutil.Clock
	logger  Logger
	group   singleflight.Group

	// open tracks expiry times of active requests seen in reads, for the
	// expiry sweep.
	mu   sync.Mutex
	open map[string]time.Time
}

func New(backend gateway.Backend, store Store, ttl time.Duration, clock timeutil.Clock, logger Logger) *Projection {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &Projection{
		backend: backend,
		store:   store,
		ttl:     ttl,
		clock:   clock,
		logger:  logger,
		open:    make(map[string]time.Time),
	}
}

// Now is the reference time every derivation uses.
func (p *Projection) Now() time.Time {
	return p.clock.Now()
}

// Current is an up to date reading for timestamps sent with mutations.
func (p *Projection) Current() time.Time {
	return timeutil.Current(p.clock)
}

func (p *Projection) Request(ctx context.Context, s gateway.Session, id string) (models.HelpRequest, error) {
	var out models.HelpRequest
	err := p.read(ctx, s, RequestScope(id), &out, func() (interface{}, error) {
		return p.backend.GetRequest(ctx, s, id)
	})
	if err == nil {
		p.track(out)
	}
	return out, err
}

func (p *Projection) PendingOffers(ctx context.Context, s gateway.Session, requestID string) ([]models.Offer, error) {
	var out []models.Offer
	err := p.read(ctx, s, OffersScope(requestID), &out, func() (interface{}, error) {
		return p.backend.ListPendingOffers(ctx, s, requestID)
	})
	return out, err
}

// MyOffer is cached under the offers scope with a viewer specific key.
func (p *Projection) MyOffer(ctx context.Context, s gateway.Session, requestID string) (*models.Offer, error) {
	var out *models.Offer
	err := p.readKey(ctx, OffersScope(requestID), "mine:"+s.UserID, &out, func() (interface{}, error) {
		return p.backend.GetMyOffer(ctx, s, requestID)
	})
	return out, err
}

func (p *Projection) Assist(ctx context.Context, s gateway.Session, id string) (models.Assist, error) {
	var out models.Assist
	err := p.read(ctx, s, AssistScope(id), &out, func() (interface{}, error) {
		return p.backend.GetAssist(ctx, s, id)
	})
	return out, err
}

func (p *Projection) Feed(ctx context.Context, s gateway.Session) (models.Feed, error) {
	var out models.Feed
	err := p.read(ctx, s, ScopeFeed, &out, func() (interface{}, error) {
		return p.backend.Feed(ctx, s)
	})
	if err == nil {
		for _, r := range out.MyRequests {
			p.track(r)
		}
		for _, r := range out.Neighborhood {
			p.track(r)
		}
	}
	return out, err
}

func (p *Projection) HelpDetails(ctx context.Context, s gateway.Session) ([]models.HelpDetail, error) {
	var out []models.HelpDetail
	err := p.read(ctx, s, DetailsScope(s.UserID), &out, func() (interface{}, error) {
		return p.backend.ListHelpDetails(ctx, s)
	})
	return out, err
}

// Invalidate bumps the given scopes so the next read goes to the backend.
func (p *Projection) Invalidate(ctx context.Context, scopes ...string) {
	for _, scope := range scopes {
		if err := p.store.Bump(ctx, scope); err != nil && p.logger != nil {
			p.logger.Errorf("projection: invalidate %s: %v", scope, err)
		}
	}
}

// InvalidateAll makes every cached entry stale at once.
func (p *Projection) InvalidateAll(ctx context.Context) {
	p.Invalidate(ctx, scopeEpoch)
}

// ScopesFor maps a change notification to the scopes it makes stale.
func ScopesFor(c realtime.Change) []string {
	scopes := []string{ScopeFeed}
	switch c.Table {
	case realtime.TableRequests:
		if id := c.ID(); id != "" {
			scopes = append(scopes, RequestScope(id))
		}
	case realtime.TableOffers:
		if rid := c.Field("request_id"); rid != "" {
			scopes = append(scopes, OffersScope(rid), RequestScope(rid))
		}
	case realtime.TableAssists:
		if id := c.ID(); id != "" {
			scopes = append(scopes, AssistScope(id))
		}
		if rid := c.Field("request_id"); rid != "" {
			scopes = append(scopes, RequestScope(rid))
		}
	}
	return scopes
}

// Run invalidates on every change from changes until it closes or ctx is
// done. onChange, if set, is called after the invalidation.
func (p *Projection) Run(ctx context.Context, changes <-chan realtime.Change, onChange func(realtime.Change)) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-changes:
			if !ok {
				return
			}
			if c.Lagged {
				if p.logger != nil {
					p.logger.Errorf("projection: change stream lagged, dropping all cached views")
				}
				p.InvalidateAll(ctx)
			} else {
				p.Invalidate(ctx, ScopesFor(c)...)
			}
			if onChange != nil {
				onChange(c)
			}
		}
	}
}

// SweepExpired drops tracked requests whose expiry is at or before now,
// invalidates them and returns their ids.
func (p *Projection) SweepExpired(ctx context.Context, now time.Time) []string {
	p.mu.Lock()
	var expired []string
	for id, at := range p.open {
		if !at.After(now) {
			expired = append(expired, id)
			delete(p.open, id)
		}
	}
	p.mu.Unlock()
	if len(expired) == 0 {
		return nil
	}
	scopes := make([]string, 0, len(expired)+1)
	scopes = append(scopes, ScopeFeed)
	for _, id := range expired {
		scopes = append(scopes, RequestScope(id))
	}
	p.Invalidate(ctx, scopes...)
	return expired
}

func (p *Projection) track(r models.HelpRequest) {
	if r.ID == "" || r.ExpiresAt.IsZero() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if IsOpen(r, p.clock.Now()) {
		p.open[r.ID] = r.ExpiresAt
	} else {
		delete(p.open, r.ID)
	}
}

func (p *Projection) read(ctx context.Context, s gateway.Session, scope string, out interface{}, load func() (interface{}, error)) error {
	return p.readKey(ctx, scope, s.UserID, out, load)
}

// readKey serves out from the cache key for (scope, epoch, generation, sub),
// or loads it. Cache errors degrade to a backend read.
func (p *Projection) readKey(ctx context.Context, scope, sub string, out interface{}, load func() (interface{}, error)) error {
	epoch, err := p.store.Generation(ctx, scopeEpoch)
	if err != nil {
		p.logCacheErr("generation", scopeEpoch, err)
		return p.direct(out, load)
	}
	gen, err := p.store.Generation(ctx, scope)
	if err != nil {
		p.logCacheErr("generation", scope, err)
		return p.direct(out, load)
	}
	key := fmt.Sprintf("help:%s:%d.%d:%s", scope, epoch, gen, sub)

	if data, ok, err := p.store.Get(ctx, key); err != nil {
		p.logCacheErr("get", key, err)
	} else if ok {
		return json.Unmarshal(data, out)
	}

	v, err, _ := p.group.Do(key, func() (interface{}, error) {
		val, err := load()
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		if err := p.store.Set(ctx, key, data, p.ttl); err != nil {
			p.logCacheErr("set", key, err)
		}
		return data, nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(v.([]byte), out)
}

func (p *Projection) direct(out interface{}, load func() (interface{}, error)) error {
	val, err := load()
	if err != nil {
		return err
	}
	data, err := json.Marshal(val)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (p *Projection) logCacheErr(op, key string, err error) {
	if p.logger != nil {
		p.logger.Errorf("projection: cache %s %s: %v", op, key, err)
	}
}
