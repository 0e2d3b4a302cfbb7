// Command migrate applies or rolls back the reservation schema.
//
//	migrate up | down | version | to <n>
package main

import (
	"database/sql"
	"fmt"
	"os"
	"strconv"

	"ms-rental/internal/config"
	"ms-rental/internal/database/migrations"
	"ms-rental/internal/logger"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logger.New(os.Stderr)

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: migrate up | down | version | to <n>")
		os.Exit(2)
	}

	sqldb, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
	}
	bunDB := bun.NewDB(sqldb, pgdialect.New())

	runner := migrations.NewRunner(bunDB, migrations.MigrateOptions{MigrationsDir: cfg.Database.MigrationsDir}, log)
	defer runner.Close()

	switch os.Args[1] {
	case "up":
		err = runner.RunMigrations()
	case "down":
		err = runner.MigrateDown()
	case "to":
		if len(os.Args) < 3 {
			log.Fatal("MIGRATE", "missing target version")
		}
		v, perr := strconv.ParseUint(os.Args[2], 10, 32)
		if perr != nil {
			log.Fatal("MIGRATE", fmt.Sprintf("invalid version %q", os.Args[2]))
		}
		err = runner.MigrateTo(uint(v))
	case "version":
		var version uint
		var dirty bool
		version, dirty, err = runner.Version()
		if err == nil {
			fmt.Printf("version=%d dirty=%t\n", version, dirty)
		}
	default:
		log.Fatal("MIGRATE", fmt.Sprintf("unknown command %q", os.Args[1]))
	}
	if err != nil {
		log.Fatal("MIGRATE", err.Error())
	}
	log.Info("MIGRATE", fmt.Sprintf("%s done", os.Args[1]))
}
