package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nandanakrishna556/gictor-server/internal/adapter/repo"
	"github.com/nandanakrishna556/gictor-server/internal/cost"
	"github.com/nandanakrishna556/gictor-server/internal/gateway"
	"github.com/nandanakrishna556/gictor-server/internal/http/handlers"
	httpapi "github.com/nandanakrishna556/gictor-server/internal/http/httpapi"
	"github.com/nandanakrishna556/gictor-server/internal/infra"
	"github.com/nandanakrishna556/gictor-server/internal/infra/geoip"
	"github.com/nandanakrishna556/gictor-server/internal/ledger"
	"github.com/nandanakrishna556/gictor-server/internal/metrics"
	"github.com/nandanakrishna556/gictor-server/internal/middleware"
	"github.com/nandanakrishna556/gictor-server/internal/ratelimit"
	"github.com/nandanakrishna556/gictor-server/internal/reconcile"
	"github.com/nandanakrishna556/gictor-server/internal/worker"
)

func main() {
	// Load .env (optional)
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	// Storage
	led := ledger.NewPG(dbpool, logger)
	requests := repo.NewRequestRepository(dbpool)
	pipelines := repo.NewPipelineRepository(dbpool)
	assets := repo.NewFinishedAssetRepository(dbpool)
	for _, ensure := range []func(context.Context) error{
		led.EnsureSchema,
		requests.EnsureSchema,
		pipelines.EnsureSchema,
		assets.EnsureSchema,
	} {
		if err := ensure(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to ensure schema")
		}
	}

	// Cost table, base rates plus optional YAML override.
	costs, err := cost.LoadTable(cfg.CostTablePath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.CostTablePath).Msg("failed to load cost table")
	}

	// GeoIP is optional; without a database requests carry no origin country.
	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	}
	var country middleware.CountryLookup
	if resolver != nil {
		country = resolver.CountryCode
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(registry)

	limiter := ratelimit.New(cfg.RateLimitPerMin, time.Minute, time.Now)
	engine := worker.NewClient(worker.Options{
		BaseURL: cfg.WorkerBaseURL,
		APIKey:  cfg.WorkerAPIKey,
		Timeout: cfg.WorkerTimeout,
	})

	gw := gateway.New(limiter, costs, led, requests, pipelines, engine, cfg.WorkerTimeout, logger, m)
	rec := reconcile.New(led, requests, pipelines, assets, logger, m)

	app := &handlers.App{
		Logger:         logger,
		Gateway:        gw,
		Reconciler:     rec,
		Ledger:         led,
		Requests:       requests,
		Assets:         assets,
		CallbackAPIKey: cfg.CallbackAPIKey,
	}

	router := httpapi.NewRouter(app, httpapi.Options{
		JWTSecret:      cfg.JWTSecret,
		AllowedOrigins: cfg.AllowedOrigins,
		DefaultLocale:  cfg.DefaultLocale,
		Country:        country,
		Metrics:        promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on %s", server.Addr())
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
