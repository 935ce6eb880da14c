// Command coupon-ingest bulk-imports promo codes from gzipped code lists.
//
// Code lists are newline-delimited files, one code per line, and may contain
// hundreds of millions of entries with duplicates across files. A bloom
// filter keeps the dedup set in memory; its false-positive rate only causes
// a tiny fraction of valid codes to be skipped, which is acceptable for
// promo campaigns.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/vendkit/storefront/internal/storage/postgres"
)

const (
	bloomCapacity = 120_000_000
	bloomFPR      = 0.001
	progressEvery = 1_000_000
	minCodeLen    = 8
	maxCodeLen    = 10
)

func main() {
	var (
		dataDir      string
		databaseURL  string
		discountType string
		value        string
		minimumOrder string
		usageLimit   int
		expiresIn    time.Duration
		description  string
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing *.gz code lists")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&discountType, "discount-type", "percentage", "discount type for imported codes (percentage|fixed)")
	flag.StringVar(&value, "value", "10", "discount value for imported codes")
	flag.StringVar(&minimumOrder, "minimum-order", "0", "minimum order subtotal for imported codes")
	flag.IntVar(&usageLimit, "usage-limit", 1, "usage limit per imported code (0 = unlimited)")
	flag.DurationVar(&expiresIn, "expires-in", 0, "validity window for imported codes (0 = no expiry)")
	flag.StringVar(&description, "description", "Imported promo code", "description for imported codes")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	rule, err := parseRule(discountType, value, minimumOrder, usageLimit, expiresIn, description)
	if err != nil {
		slog.Error("invalid rule flags", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, databaseURL, rule); err != nil {
		slog.Error("coupon ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon ingest completed successfully")
}

// codeRule is the coupon rule applied to every imported code.
type codeRule struct {
	discountType string
	value        decimal.Decimal
	minimumOrder decimal.Decimal
	usageLimit   int32
	expiresAt    *time.Time
	description  string
}

func parseRule(discountType, value, minimumOrder string, usageLimit int, expiresIn time.Duration, description string) (codeRule, error) {
	if discountType != "percentage" && discountType != "fixed" {
		return codeRule{}, errors.Errorf("unsupported discount type %q", discountType)
	}

	v, err := decimal.NewFromString(value)
	if err != nil {
		return codeRule{}, errors.Wrap(err, "parse value")
	}
	if !v.IsPositive() {
		return codeRule{}, errors.Errorf("discount value must be positive, got %s", v)
	}
	if discountType == "percentage" && v.GreaterThan(decimal.NewFromInt(100)) {
		return codeRule{}, errors.Errorf("percentage value must be at most 100, got %s", v)
	}
	minimum, err := decimal.NewFromString(minimumOrder)
	if err != nil {
		return codeRule{}, errors.Wrap(err, "parse minimum order")
	}

	rule := codeRule{
		discountType: discountType,
		value:        v,
		minimumOrder: minimum,
		usageLimit:   int32(usageLimit),
		description:  description,
	}
	if expiresIn > 0 {
		t := time.Now().Add(expiresIn)
		rule.expiresAt = &t
	}
	return rule, nil
}

func run(ctx context.Context, dataDir, databaseURL string, rule codeRule) error {
	files, err := filepath.Glob(filepath.Join(dataDir, "*.gz"))
	if err != nil {
		return errors.Wrap(err, "list code files")
	}
	if len(files) == 0 {
		return errors.Errorf("no *.gz code lists in %s", dataDir)
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	// Files are streamed concurrently; a single writer goroutine owns both
	// the bloom filter and the database connection.
	codes := make(chan string, 4096)

	g, ctx := errgroup.WithContext(ctx)
	readers, ctx := errgroup.WithContext(ctx)
	for _, f := range files {
		readers.Go(streamFile(ctx, f, codes))
	}
	g.Go(func() error {
		defer close(codes)
		return readers.Wait()
	})
	g.Go(func() error {
		return writeCoupons(ctx, pool, codes, rule)
	})

	return g.Wait()
}

// streamFile reads one gzipped code list and sends length-valid codes on out.
func streamFile(ctx context.Context, path string, out chan<- string) func() error {
	return func() error {
		f, err := os.Open(path)
		if err != nil {
			return errors.Wrapf(err, "open %s", path)
		}
		defer func() { _ = f.Close() }()

		gz, err := pgzip.NewReader(f)
		if err != nil {
			return errors.Wrapf(err, "create gzip reader for %s", path)
		}
		defer func() { _ = gz.Close() }()

		scanner := bufio.NewScanner(gz)
		for scanner.Scan() {
			code := scanner.Text()
			if len(code) < minCodeLen || len(code) > maxCodeLen {
				continue
			}
			select {
			case out <- code:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := scanner.Err(); err != nil {
			return errors.Wrapf(err, "scan %s", path)
		}
		return nil
	}
}

// writeCoupons dedupes incoming codes against the bloom filter and upserts
// the remainder.
func writeCoupons(ctx context.Context, pool *pgxpool.Pool, codes <-chan string, rule codeRule) error {
	const upsert = `INSERT INTO coupons (id, code, discount_type, value, minimum_order, usage_limit, expires_at, active, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, $8)
		ON CONFLICT (code) DO NOTHING`

	seen := bloom.NewWithEstimates(bloomCapacity, bloomFPR)

	var scanned, written uint64
	for code := range codes {
		scanned++
		if scanned%progressEvery == 0 {
			slog.Info("ingest progress",
				slog.Uint64("scanned", scanned),
				slog.Uint64("written", written),
			)
		}

		if seen.TestOrAddString(code) {
			continue
		}

		_, err := pool.Exec(ctx, upsert,
			uuid.New().String(), code,
			rule.discountType, rule.value, rule.minimumOrder,
			rule.usageLimit, rule.expiresAt, rule.description,
		)
		if err != nil {
			return errors.Wrapf(err, "upsert coupon %s", code)
		}
		written++
	}

	slog.Info("ingest finished",
		slog.Uint64("scanned", scanned),
		slog.Uint64("written", written),
	)

	if written == 0 {
		return fmt.Errorf("no codes written from %d scanned", scanned)
	}
	return nil
}
