package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/nandanakrishna556/gictor-server/internal/adapter/repo"
	"github.com/nandanakrishna556/gictor-server/internal/domain"
	"github.com/nandanakrishna556/gictor-server/internal/infra"
	"github.com/nandanakrishna556/gictor-server/internal/ledger"
)

const sweepBatchSize = 100

// The sweeper closes out requests whose callback never arrived. A request
// stuck in pending or processing past the configured age is marked failed
// and its reservation refunded, so an engine crash cannot strand credit.
func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv).With().Str("component", "sweeper").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("db connection failed")
	}
	defer pool.Close()

	led := ledger.NewPG(pool, logger)
	requests := repo.NewRequestRepository(pool)

	logger.Info().
		Dur("interval", cfg.SweepInterval).
		Dur("max_age", cfg.SweepMaxAge).
		Msg("sweeper started")

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		sweepOnce(ctx, logger, requests, led, int(cfg.SweepMaxAge.Seconds()))
		select {
		case <-ctx.Done():
			logger.Info().Msg("sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}

func sweepOnce(ctx context.Context, logger zerolog.Logger, requests domain.RequestRepository, led ledger.Ledger, maxAgeSeconds int) {
	stuck, err := requests.ListStuckProcessing(ctx, maxAgeSeconds, sweepBatchSize)
	if err != nil {
		logger.Error().Err(err).Msg("list stuck requests failed")
		return
	}
	for _, req := range stuck {
		errMsg := fmt.Sprintf("no completion callback within %ds", maxAgeSeconds)
		if err := requests.UpdateStatus(ctx, req.ID, domain.StatusFailed, req.Progress, &errMsg, nil); err != nil {
			logger.Error().Err(err).Str("request_id", req.ID).Msg("mark stuck request failed")
			continue
		}
		if req.CostCredits > 0 {
			if err := led.Refund(ctx, req.UserID, req.CostCredits, req.ID, "generation timed out"); err != nil {
				logger.Error().Err(err).Str("request_id", req.ID).Msg("refund stuck request failed")
				continue
			}
		}
		logger.Warn().
			Str("request_id", req.ID).
			Str("user_id", req.UserID).
			Float64("credits", req.CostCredits).
			Msg("swept stuck request")
	}
}
