package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"ms-payments/internal/config"
	"ms-payments/internal/database/migrations"
	"ms-payments/internal/logger"
	"ms-payments/internal/models"
	"ms-payments/internal/payment/storage"

	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

const usage = `usage: migrate [-dir ./migrations] <command>

commands:
  up          apply all pending migrations
  down        roll back one migration
  to <n>      migrate to version n
  version     print the current schema version
  seed        insert sample pending payments (one already past its deadline)
`

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	dir := flag.String("dir", cfg.Database.Migrations, "migrations directory")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	log := logger.New(os.Stdout)
	ctx := context.Background()

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Database.PostgresDSN())))
	defer sqldb.Close()
	if err := sqldb.PingContext(ctx); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to database: %v", err))
	}
	db := bun.NewDB(sqldb, pgdialect.New())

	runner := migrations.NewRunner(db, migrations.Options{Dir: *dir}, log)
	if err := runner.Initialize(); err != nil {
		log.Fatal("MIGRATION", err.Error())
	}
	defer runner.Close()

	if err := run(ctx, runner, db, log, flag.Args()); err != nil {
		log.Fatal("MIGRATION", err.Error())
	}
}

func run(ctx context.Context, runner *migrations.Runner, db *bun.DB, log *logger.Logger, args []string) error {
	switch args[0] {
	case "up":
		return runner.MigrateUp()
	case "down":
		return runner.MigrateDown()
	case "to":
		if len(args) < 2 {
			return fmt.Errorf("to requires a version")
		}
		version, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[1], err)
		}
		return runner.MigrateTo(uint(version))
	case "version":
		version, err := runner.Version()
		if err != nil {
			return err
		}
		fmt.Println(version)
		return nil
	case "seed":
		return seed(ctx, storage.NewBunStore(db, log))
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func seed(ctx context.Context, store storage.Store) error {
	now := time.Now().UTC()
	soon := now.Add(10 * time.Minute)
	payments := []*models.PaymentRecord{
		{GatewayOrderID: "order_seed_fresh", Amount: 2500, ExpiresAt: &soon},
		{GatewayOrderID: "order_seed_stale", Amount: 4200, CreatedAt: now.Add(-20 * time.Minute)},
	}
	for _, p := range payments {
		if err := store.Create(ctx, p); err != nil {
			return fmt.Errorf("seed %s: %w", p.GatewayOrderID, err)
		}
	}
	return nil
}
