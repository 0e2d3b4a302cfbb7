// Command expiry-sweeper runs one expiry pass and exits, for use from cron or a
// Kubernetes CronJob instead of the in-process sweeper.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"ms-rental/internal/app"
	"ms-rental/internal/config"
	"ms-rental/internal/logger"

	"github.com/joho/godotenv"
)

func main() {
	thresholdMinutes := flag.Int("threshold-minutes", 0, "cancel holds older than this (defaults to HOLD_TTL_MINUTES)")
	flag.Parse()
	os.Exit(run(*thresholdMinutes))
}

func run(thresholdMinutes int) int {
	_ = godotenv.Load()
	cfg := config.Load()
	if thresholdMinutes > 0 {
		cfg.Reservation.HoldTTL = time.Duration(thresholdMinutes) * time.Minute
	}
	log := logger.New(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("APP", fmt.Sprintf("Initialization failed: %v", err))
		return 1
	}
	defer a.Close()

	result, err := a.NewSweeper().RunOnce(ctx)
	if err != nil {
		log.Error("SWEEP", err.Error())
		return 1
	}
	if result == nil {
		log.Info("SWEEP", "Another sweeper holds the lease, nothing to do")
		return 0
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		log.Error("SWEEP", fmt.Sprintf("encode result: %v", err))
	}
	if result.Failed > 0 {
		return 2
	}
	return 0
}
