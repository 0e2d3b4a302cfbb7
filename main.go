package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"ms-rental/internal/app"
	"ms-rental/internal/config"
	"ms-rental/internal/logger"
	"ms-rental/internal/reservation/reservation_api"
	"ms-rental/internal/voucher"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	envErr := godotenv.Load()
	cfg := config.Load()

	log, err := logger.NewLogger(logger.Options{
		Dir:        cfg.Log.Dir,
		Service:    "ms-rental",
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		MinLevel:   logger.ParseLevel(cfg.Log.Level),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	log.Info("APP", "Starting Rental Service initialization")
	if envErr != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}
	if cfg.VoucherSecret == "" {
		log.Fatal("CONFIG", "VOUCHER_SECRET not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("APP", fmt.Sprintf("Initialization failed: %v", err))
	}
	defer a.Close()

	vouchers := voucher.NewGenerator(cfg.VoucherSecret)
	handler := reservation_api.NewHandler(a.Service, a.AuditLog, vouchers, log)
	handler.Vehicles = a.Catalog
	if cfg.VoucherFont != "" {
		if _, err := os.Stat(cfg.VoucherFont); err != nil {
			log.Warn("CONFIG", fmt.Sprintf("PDF vouchers disabled, font %s: %v", cfg.VoucherFont, err))
		} else {
			handler.PDF = voucher.NewPDFRenderer(vouchers, cfg.VoucherFont)
		}
	}

	log.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(reservation_api.RequestLogger(log))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := a.DB.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}))
	handler.Routes(r)
	log.Info("ROUTER", "Reservation routes registered under /api")

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTP", fmt.Sprintf("🚀 Rental Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return a.NewSweeper().Run(gctx)
	})
	g.Go(func() error {
		return a.RunPaymentConsumer(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("APP", fmt.Sprintf("Service stopped with error: %v", err))
		return
	}
	log.Info("HTTP", "✅ Rental Service shutdown complete")
}
