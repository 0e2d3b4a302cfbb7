// Package app wires the rental service's dependencies from configuration. The
// HTTP service and the one-shot sweeper share it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"ms-rental/internal/audit"
	"ms-rental/internal/calendar"
	"ms-rental/internal/catalog"
	"ms-rental/internal/config"
	"ms-rental/internal/database/migrations"
	"ms-rental/internal/kafka"
	"ms-rental/internal/logger"
	"ms-rental/internal/metrics"
	"ms-rental/internal/models"
	"ms-rental/internal/reservation"
	"ms-rental/internal/reservation/db"
	rentalkafka "ms-rental/internal/reservation/kafka"
	rentalredis "ms-rental/internal/reservation/redis"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"google.golang.org/api/option"
)

type App struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       *bun.DB
	Redis    *redis.Client
	Locks    *rentalredis.Locks
	Producer *kafka.Producer
	Catalog  *catalog.Catalog
	AuditLog *audit.DBSink
	Registry *prometheus.Registry
	Service  *reservation.Service

	closers []func()
}

// New connects everything the reservation service needs. Redis and Kafka are
// optional; Postgres and the calendar are not.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: log}

	cat, err := catalog.LoadFile(cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	a.Catalog = cat
	log.Info("CATALOG", fmt.Sprintf("Loaded %d vehicles from %s", len(cat.List()), cfg.CatalogPath))

	bunDB, err := connectDB(cfg.Database, log)
	if err != nil {
		return nil, err
	}
	a.DB = bunDB
	a.closers = append(a.closers, func() { bunDB.Close() })

	if cfg.Database.AutoMigrate {
		runner := migrations.NewRunner(bunDB, migrations.MigrateOptions{MigrationsDir: cfg.Database.MigrationsDir, AutoMigrate: true}, log)
		if err := runner.RunMigrations(); err != nil {
			a.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	store := &db.DB{Bun: bunDB}
	a.AuditLog = &audit.DBSink{Bun: bunDB}
	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(a.Registry)

	var googleOpts []option.ClientOption
	if cfg.Calendar.CredentialsFile != "" {
		googleOpts = append(googleOpts, option.WithCredentialsFile(cfg.Calendar.CredentialsFile))
	}

	if !cfg.Calendar.Enabled {
		a.Close()
		return nil, errors.New("the calendar gateway is required: set CALENDAR_ENABLED=true")
	}
	gateway, err := calendar.NewGoogle(ctx, cat, cfg.Calendar.Timeout, log, googleOpts...)
	if err != nil {
		a.Close()
		return nil, err
	}

	sinks := audit.Multi{a.AuditLog}
	if cfg.Sheets.SpreadsheetID != "" {
		ledger, err := audit.NewSheetsLedger(ctx, cfg.Sheets.SpreadsheetID, cfg.Sheets.Range, cfg.Sheets.TimeZone, cfg.Calendar.Timeout, googleOpts...)
		if err != nil {
			log.Warn("SHEETS", fmt.Sprintf("Booking ledger disabled: %v", err))
		} else {
			sinks = append(sinks, audit.OnlyActions(ledger,
				models.ActionHoldCreated, models.ActionPaymentConfirmed, models.ActionCancel))
			log.Info("SHEETS", "Booking ledger enabled")
		}
	}

	opts := []reservation.Option{
		reservation.WithAudit(sinks),
		reservation.WithMetrics(m),
		reservation.WithLogger(log),
		reservation.WithCalendarCrossCheck(cfg.Calendar.CrossCheck),
		reservation.WithPolicy(reservation.Policy{
			MaxNights: cfg.Reservation.MaxNights,
			HoldTTL:   cfg.Reservation.HoldTTL,
		}),
	}

	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Warn("REDIS", fmt.Sprintf("Redis unavailable, running without day locks: %v", err))
			client.Close()
		} else {
			a.Redis = client
			a.Locks = rentalredis.NewLocks(client, cfg.Reservation.DayLockTTL, log)
			a.closers = append(a.closers, func() { client.Close() })
			opts = append(opts, reservation.WithDayLocks(a.Locks))
			log.Info("REDIS", fmt.Sprintf("✅ Redis connection successful to %s", cfg.Redis.Addr))
		}
	}

	if cfg.Kafka.Enabled {
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, cfg.Kafka.Topics.All(), log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		a.Producer = kafka.NewProducer(cfg.Kafka.Brokers)
		a.closers = append(a.closers, func() { a.Producer.Close() })
		opts = append(opts, reservation.WithEvents(rentalkafka.NewEventPublisher(a.Producer, cfg.Kafka.Topics)))
		log.Info("KAFKA", fmt.Sprintf("Kafka producer initialized for %v", cfg.Kafka.Brokers))
	}

	a.Service = reservation.NewService(store, gateway, cat, opts...)
	return a, nil
}

// NewSweeper returns the periodic expiry sweeper, leased through Redis when it
// is available so only one replica sweeps at a time.
func (a *App) NewSweeper() *reservation.Sweeper {
	var leaser reservation.Leaser
	if a.Locks != nil {
		leaser = a.Locks
	}
	host, _ := os.Hostname()
	owner := fmt.Sprintf("%s-%d", host, os.Getpid())
	return reservation.NewSweeper(a.Service, a.Config.Reservation.SweepInterval, a.Config.Reservation.HoldTTL, leaser, owner, a.Logger)
}

// RunPaymentConsumer applies payment results from Kafka until ctx is done. It
// returns at once when Kafka is disabled.
func (a *App) RunPaymentConsumer(ctx context.Context) error {
	if !a.Config.Kafka.Enabled {
		return nil
	}
	consumer := kafka.NewConsumer(a.Config.Kafka.Brokers, a.Config.Kafka.Topics.PaymentResults, a.Config.Kafka.GroupID, a.Logger)
	defer consumer.Close()
	a.Logger.Info("KAFKA", fmt.Sprintf("Consuming payment results from %s", a.Config.Kafka.Topics.PaymentResults))
	return consumer.Run(ctx, rentalkafka.PaymentResultHandler(a.Service, a.Logger))
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func connectDB(cfg config.DatabaseConfig, log *logger.Logger) (*bun.DB, error) {
	retries := cfg.ConnectRetry
	if retries < 1 {
		retries = 1
	}

	var sqldb *sql.DB
	var err error
	for i := 0; i < retries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, retries))
		sqldb, err = sql.Open("postgres", cfg.DSN)
		if err == nil {
			if err = sqldb.Ping(); err == nil {
				break
			}
			sqldb.Close()
		}
		log.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < retries-1 {
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect to PostgreSQL after %d attempts: %w", retries, err)
	}

	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.MaxLifetime)
	log.Info("DATABASE", "✅ PostgreSQL connection successful")
	return bun.NewDB(sqldb, pgdialect.New()), nil
}
