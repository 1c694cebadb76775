package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"neighborly/internal/auth"
	"neighborly/internal/config"
	"neighborly/internal/help"
	"neighborly/internal/help/gateway"
	"neighborly/internal/help/metrics"
	"neighborly/internal/help/realtime"
	"neighborly/internal/help/taxonomy"
	"neighborly/internal/models"
)

type application struct {
	logger   *zap.SugaredLogger
	cfg      config.Config
	tokens   *auth.Manager
	limiter  *viewerLimiter
	helpDeps *help.HelpDeps
	metrics  models.MetricService
	db       *sql.DB
	rdb      *redis.Client
}

func initializeApp(ctx context.Context, cfg config.Config, logger *zap.SugaredLogger) (*application, error) {
	tokens, err := auth.NewManager(cfg.Backend.JWTSecret)
	if err != nil {
		return nil, err
	}
	app := &application{
		logger:  logger,
		cfg:     cfg,
		tokens:  tokens,
		limiter: newViewerLimiter(cfg.Rate.PerMinute),
		metrics: metrics.Nop{},
	}

	table, err := loadTaxonomy(cfg.Taxonomy.File)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: 15 * time.Second}
	var backend gateway.Backend
	switch cfg.Backend.Transport {
	case config.TransportPostgres:
		db, err := openDB(cfg.Backend.DatabaseURL)
		if err != nil {
			return nil, err
		}
		app.db = db
		backend = gateway.NewPostgresBackend(db)
	default:
		backend = gateway.NewRESTClient(httpClient, cfg.Backend.URL, cfg.Backend.AnonKey)
	}

	if cfg.Redis.Addr != "" {
		app.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := app.rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			app.close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
	}

	var source realtime.Source
	switch cfg.Realtime.Source {
	case config.SourceWebsocket:
		s, err := realtime.NewSupabaseSource(cfg.Backend.URL, cfg.Backend.AnonKey, realtime.WatchedTables, logger)
		if err != nil {
			app.close()
			return nil, err
		}
		source = s
	case config.SourcePostgres:
		source = realtime.NewListenSource(cfg.Backend.DatabaseURL, cfg.Realtime.Channel, logger)
	}

	if cfg.Metrics.Enabled {
		m, err := metrics.NewStdoutMetricService(cfg.Metrics.Interval)
		if err != nil {
			app.close()
			return nil, err
		}
		app.metrics = m
	}

	app.helpDeps = &help.HelpDeps{
		Backend:    backend,
		Table:      table,
		RDB:        app.rdb,
		Source:     source,
		Metrics:    app.metrics,
		Logger:     logger,
		Config:     helpConfig(cfg),
		HTTPClient: httpClient,
	}
	if err := app.helpDeps.Validate(); err != nil {
		app.close()
		return nil, err
	}
	return app, nil
}

func helpConfig(cfg config.Config) help.HelpConfig {
	hc := help.DefaultHelpConfig()
	if cfg.Help.ScheduleWindow > 0 {
		hc.ScheduleWindow = cfg.Help.ScheduleWindow
	}
	if cfg.Help.ItemFloorMinutes > 0 {
		hc.ItemFloorMinutes = cfg.Help.ItemFloorMinutes
	}
	if len(cfg.Help.QuickPicks) > 0 {
		hc.QuickPicks = cfg.Help.QuickPicks
	}
	if cfg.Help.NoteLimit > 0 {
		hc.NoteLimit = cfg.Help.NoteLimit
	}
	if cfg.Help.DefaultServiceMinutes > 0 {
		hc.DefaultServiceMinutes = cfg.Help.DefaultServiceMinutes
	}
	if cfg.Help.GeocodeDebounce > 0 {
		hc.GeocodeDebounce = cfg.Help.GeocodeDebounce
	}
	if cfg.Cache.TTL > 0 {
		hc.CacheTTL = cfg.Cache.TTL
	}
	if cfg.Clock.Refresh > 0 {
		hc.ClockRefresh = cfg.Clock.Refresh
	}
	hc.MapboxToken = cfg.Mapbox.Token
	hc.AllowedOrigins = cfg.CORS.Origins
	return hc
}

func loadTaxonomy(path string) (*taxonomy.Table, error) {
	if path == "" {
		return taxonomy.Default()
	}
	return taxonomy.LoadFile(path)
}

func (app *application) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	app.metrics.Shutdown(ctx)
	if app.rdb != nil {
		_ = app.rdb.Close()
	}
	if app.db != nil {
		_ = app.db.Close()
	}
}

func openDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	db.SetMaxIdleConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}
