// Command grant credits a user's account, for purchases handled out of band
// and for support adjustments. The reference flag deduplicates the ledger
// row, so replaying a payment-provider event is safe.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/nandanakrishna556/gictor-server/internal/infra"
	"github.com/nandanakrishna556/gictor-server/internal/ledger"
)

func main() {
	var (
		userFlag   string
		amountFlag float64
		refFlag    string
		noteFlag   string
	)

	flag.StringVar(&userFlag, "user", "", "user ID to credit")
	flag.Float64Var(&amountFlag, "amount", 0, "credits to add (must be > 0)")
	flag.StringVar(&refFlag, "ref", "", "idempotency reference, e.g. a payment ID (default: random)")
	flag.StringVar(&noteFlag, "note", "Credit purchase", "ledger row description")
	flag.Parse()

	userID := strings.TrimSpace(userFlag)
	if userID == "" {
		exitWithError(errors.New("-user is required"))
	}
	if amountFlag <= 0 {
		exitWithError(errors.New("-amount must be positive"))
	}
	reference := strings.TrimSpace(refFlag)
	if reference == "" {
		reference = uuid.NewString()
	}

	_ = godotenv.Load()
	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		exitWithError(errors.New("DATABASE_URL is required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		exitWithError(fmt.Errorf("failed to connect database: %w", err))
	}
	defer pool.Close()

	logger := infra.NewLogger("cli").With().Str("cmd", "grant").Logger()
	led := ledger.NewPG(pool, logger)

	if err := led.Grant(ctx, userID, amountFlag, reference, noteFlag); err != nil {
		exitWithError(fmt.Errorf("grant failed: %w", err))
	}

	balance, err := led.Balance(ctx, userID)
	if err != nil {
		exitWithError(fmt.Errorf("grant applied but balance read failed: %w", err))
	}
	fmt.Printf("granted %.2f credits to %s (ref %s), balance now %.2f\n", amountFlag, userID, reference, balance)
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
