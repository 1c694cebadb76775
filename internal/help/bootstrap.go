package help

import (
	"context"
	"time"

	"github.com/bmizerany/pat"
	"github.com/justinas/alice"

	"neighborly/internal/help/duration"
	"neighborly/internal/help/geo"
	helphttp "neighborly/internal/help/http"
	"neighborly/internal/help/lifecycle"
	"neighborly/internal/help/metrics"
	"neighborly/internal/help/projection"
	"neighborly/internal/help/realtime"
	"neighborly/internal/help/timeutil"
	"neighborly/internal/help/ws"
	"neighborly/internal/models"
)

type moduleState struct {
	cfg      HelpConfig
	logger   Logger
	metrics  models.MetricService
	source   realtime.Source
	clock    *timeutil.RefreshingClock
	resolver *duration.Resolver
	proj     *projection.Projection
	broker   *realtime.Broker
	hub      *ws.Hub
	service  *lifecycle.Service
	server   *helphttp.Server
}

func ensureModule(deps *HelpDeps) (*moduleState, error) {
	if err := deps.Validate(); err != nil {
		return nil, err
	}
	if deps.module != nil {
		return deps.module, nil
	}
	cfg := deps.Config

	var src timeutil.Clock = timeutil.SystemClock{}
	if deps.Clock != nil {
		src = deps.Clock
	}
	clock := timeutil.NewRefreshingClock(src, cfg.ClockRefresh)

	var store projection.Store = projection.NewMemoryStore()
	if deps.RDB != nil {
		store = projection.NewRedisStore(deps.RDB)
	}
	var m models.MetricService = metrics.Nop{}
	if deps.Metrics != nil {
		m = deps.Metrics
	}

	resolver := duration.NewResolver(cfg.ItemFloorMinutes, cfg.QuickPicks)
	proj := projection.New(deps.Backend, store, cfg.CacheTTL, clock, deps.Logger)
	service := lifecycle.NewService(cfg.lifecycle(), deps.Table, resolver, deps.Backend, proj, m, deps.Logger)
	hub := ws.NewHub(helphttp.ViewerID, cfg.originAllowed, deps.Logger)

	var geocoder helphttp.Geocoder
	if cfg.MapboxToken != "" {
		geocoder = geo.NewMapboxClient(deps.HTTPClient, cfg.MapboxToken)
	}
	server := helphttp.NewServer(deps.Logger, service, resolver, geocoder, hub)
	server.SetGeocodeDelay(cfg.GeocodeDebounce)

	deps.module = &moduleState{
		cfg:      cfg,
		logger:   deps.Logger,
		metrics:  m,
		source:   deps.Source,
		clock:    clock,
		resolver: resolver,
		proj:     proj,
		broker:   realtime.NewBroker(deps.Logger),
		hub:      hub,
		service:  service,
		server:   server,
	}
	return deps.module, nil
}

// RegisterHelpRoutes wires HTTP and WebSocket routes into the provided mux.
func RegisterHelpRoutes(mux *pat.PatternServeMux, public, auth alice.Chain, deps *HelpDeps) error {
	module, err := ensureModule(deps)
	if err != nil {
		return err
	}
	module.server.RegisterRoutes(mux, public, auth)
	return nil
}

// StartHelpWorkers launches the clock refresher and the change subscription.
// The expiry sweep hangs off the clock refresh. They stop when ctx is done.
func StartHelpWorkers(ctx context.Context, deps *HelpDeps) error {
	module, err := ensureModule(deps)
	if err != nil {
		return err
	}
	changes, cancel := module.broker.Subscribe(64)
	go func() {
		<-ctx.Done()
		cancel()
		module.hub.Close()
	}()

	module.clock.OnRefresh(func(now time.Time) { module.sweep(ctx, now) })
	go module.clock.Run(ctx)
	if module.source != nil {
		go module.broker.Run(ctx, module.source)
	}
	go module.proj.Run(ctx, changes, module.onChange)
	return nil
}

// onChange tells browsers what changed so they re-read it.
func (m *moduleState) onChange(c realtime.Change) {
	_ = m.metrics.Count(context.Background(), models.MetricChangeReceived, c.Table, 1)
	if c.Lagged {
		m.hub.Broadcast(ws.Event{Type: ws.EventRefresh})
	}
	ev := ws.Event{Type: ws.EventChange, Table: c.Table, Op: c.Type, ID: c.ID()}
	switch c.Table {
	case realtime.TableRequests:
		ev.RequestID = ev.ID
	default:
		ev.RequestID = c.Field("request_id")
	}
	m.hub.Broadcast(ev)
}

// sweep runs on every clock refresh, so cached views and the expiry events
// share one reading of now.
func (m *moduleState) sweep(ctx context.Context, now time.Time) []string {
	if ctx.Err() != nil {
		return nil
	}
	expired := m.proj.SweepExpired(ctx, now)
	if len(expired) == 0 {
		return nil
	}
	_ = m.metrics.Count(ctx, models.MetricRequestExpired, "sweep", len(expired))
	m.logger.Infof("help: %d request(s) expired, notifying %d viewer(s)", len(expired), m.hub.Connected())
	m.hub.Broadcast(ws.Event{Type: ws.EventRefresh, Expired: expired})
	return expired
}
