// Command voucher-ingest loads gzipped CSV voucher batches into the database.
//
// Sources are local paths or s3://bucket/key URLs. A code defined in more than
// one batch is ambiguous and is skipped.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	_ "github.com/joho/godotenv/autoload"
	"go.uber.org/zap"

	"github.com/xenking/checkout-engine/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		dryRun      bool
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.BoolVar(&dryRun, "dry-run", false, "parse and report without writing")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	sources := flag.Args()
	if len(sources) == 0 {
		lg.Fatal("Usage: voucher-ingest [flags] <batch.csv.gz|s3://bucket/key>...")
	}
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, sources, dryRun); err != nil {
		lg.Fatal("Voucher ingest failed", zap.Error(err))
	}
	lg.Info("Voucher ingest completed")
}

func run(ctx context.Context, lg *zap.Logger, databaseURL string, sources []string, dryRun bool) error {
	batches, err := readBatches(ctx, lg, sourceOpener(lg), sources)
	if err != nil {
		return errors.Wrap(err, "read batches")
	}

	ambiguous := ambiguousCodes(batches)
	for code := range ambiguous {
		lg.Warn("Code defined in several batches, skipping", zap.String("code", code))
	}
	rows := plan(batches, ambiguous)
	lg.Info("Ingest plan", zap.Int("rows", len(rows)), zap.Int("ambiguous", len(ambiguous)))

	if dryRun || len(rows) == 0 {
		return nil
	}

	pool, err := postgres.NewPool(ctx, databaseURL, postgres.PoolConfig{MaxConns: 2})
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	stats, err := upsertVouchers(ctx, lg, pool, rows)
	if err != nil {
		return errors.Wrap(err, "write vouchers")
	}
	lg.Info("Vouchers written", zap.Int("written", stats.Written), zap.Int("kept", stats.Kept))
	return nil
}
