package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"neighborly/internal/config"
	"neighborly/internal/help"
	"neighborly/internal/logger"
)

type args struct {
	Addr   string `arg:"--addr,env:HTTP_ADDR" help:"HTTP network address, overrides server.address"`
	Config string `arg:"--config,env:CONFIG_FILE" help:"path to a YAML config file"`
}

func (args) Description() string {
	return "neighborly serves the neighborhood help request API"
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Error loading .env file: %v", err)
	}

	var a args
	arg.MustParse(&a)

	cfg, err := config.Load(a.Config)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if a.Addr != "" {
		cfg.Server.Address = a.Addr
	}

	sugar, err := logger.New(cfg.Log.Level)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer sugar.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := initializeApp(ctx, cfg, sugar)
	if err != nil {
		sugar.Fatalf("initialize: %v", err)
	}
	defer app.close()

	handler, err := app.routes()
	if err != nil {
		sugar.Fatalf("routes: %v", err)
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORS.Origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowCredentials: true,
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-ID"},
	})

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		ErrorLog:     zap.NewStdLog(sugar.Desugar()),
		Handler:      addSecurityHeaders(c.Handler(handler)),
		IdleTimeout:  time.Minute,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return help.StartHelpWorkers(gctx, app.helpDeps)
	})
	g.Go(func() error {
		sugar.Infof("Starting server on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		sugar.Errorf("server stopped: %v", err)
	}
}
