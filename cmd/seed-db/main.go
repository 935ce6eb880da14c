// Command seed-db applies migrations and seeds the database with demo users,
// products, coupons, and an API key for local development.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/vendkit/storefront/db"
	"github.com/vendkit/storefront/internal/domain/auth"
	"github.com/vendkit/storefront/internal/storage/postgres"
)

type productJSON struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stock_quantity"`
	Category      string          `json:"category"`
}

type seedUser struct {
	id    string
	email string
	name  string
}

var seedUsers = []seedUser{
	{id: "u-demo-1", email: "alice@example.com", name: "Alice Demo"},
	{id: "u-demo-2", email: "bob@example.com", name: "Bob Demo"},
}

type seedCoupon struct {
	code         string
	discountType string
	value        string
	minimumOrder string
	usageLimit   int32
	description  string
}

var seedCoupons = []seedCoupon{
	{code: "WELCOME10", discountType: "percentage", value: "10", minimumOrder: "0", usageLimit: 0, description: "10% off your first order"},
	{code: "TWENTYOFF", discountType: "percentage", value: "20", minimumOrder: "50", usageLimit: 0, description: "20% off orders over $50"},
	{code: "FIVEBUCKS", discountType: "fixed", value: "5", minimumOrder: "0", usageLimit: 1000, description: "$5 off your order"},
}

func main() {
	var (
		databaseURL  string
		productsFile string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "", "path to products JSON file (default: embedded catalog)")
	flag.StringVar(&apiKey, "api-key", "", "API key to seed (or STORE_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or STORE_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("STORE_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or STORE_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("STORE_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile, apiKey, pepper string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedUsersTable(ctx, pool); err != nil {
		return errors.Wrap(err, "seed users")
	}
	if err := seedProducts(ctx, pool, productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}
	if err := seedCouponsTable(ctx, pool); err != nil {
		return errors.Wrap(err, "seed coupons")
	}
	if err := seedAPIKey(ctx, pool, apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	return nil
}

func seedUsersTable(ctx context.Context, pool *pgxpool.Pool) error {
	const upsert = `INSERT INTO users (id, email, name, active) VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, name = EXCLUDED.name, active = TRUE`

	for _, u := range seedUsers {
		if _, err := pool.Exec(ctx, upsert, u.id, u.email, u.name); err != nil {
			return errors.Wrapf(err, "upsert user %s", u.id)
		}
	}

	slog.Info("seeded users", slog.Int("count", len(seedUsers)))
	return nil
}

func seedProducts(ctx context.Context, pool *pgxpool.Pool, productsFile string) error {
	data := db.SeedProducts
	if productsFile != "" {
		slog.Info("reading products file", slog.String("path", productsFile))

		var err error
		data, err = os.ReadFile(productsFile)
		if err != nil {
			return errors.Wrap(err, "read products file")
		}
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	const upsert = `INSERT INTO products (id, name, price, stock_quantity, active, category)
		VALUES ($1, $2, $3, $4, TRUE, $5)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price,
			stock_quantity = EXCLUDED.stock_quantity, active = TRUE, category = EXCLUDED.category`

	for _, p := range products {
		if _, err := pool.Exec(ctx, upsert, p.ID, p.Name, p.Price, p.StockQuantity, p.Category); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}
	}

	slog.Info("seeded products", slog.Int("count", len(products)))
	return nil
}

func seedCouponsTable(ctx context.Context, pool *pgxpool.Pool) error {
	const upsert = `INSERT INTO coupons (id, code, discount_type, value, minimum_order, usage_limit, active, description)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7)
		ON CONFLICT (code) DO UPDATE SET discount_type = EXCLUDED.discount_type,
			value = EXCLUDED.value, minimum_order = EXCLUDED.minimum_order,
			usage_limit = EXCLUDED.usage_limit, active = TRUE, description = EXCLUDED.description`

	for _, c := range seedCoupons {
		value, err := decimal.NewFromString(c.value)
		if err != nil {
			return errors.Wrapf(err, "parse value for coupon %s", c.code)
		}
		minimum, err := decimal.NewFromString(c.minimumOrder)
		if err != nil {
			return errors.Wrapf(err, "parse minimum for coupon %s", c.code)
		}

		_, err = pool.Exec(ctx, upsert, uuid.New().String(), c.code, c.discountType, value, minimum, c.usageLimit, c.description)
		if err != nil {
			return errors.Wrapf(err, "upsert coupon %s", c.code)
		}
	}

	slog.Info("seeded coupons", slog.Int("count", len(seedCoupons)))
	return nil
}

func seedAPIKey(ctx context.Context, pool *pgxpool.Pool, apiKey, pepper string) error {
	hash := auth.HashKey([]byte(pepper), apiKey)

	const upsert = `INSERT INTO api_keys (id, key_hash, name, scopes, active)
		VALUES ($1, $2, $3, $4, TRUE)
		ON CONFLICT (key_hash) DO UPDATE SET active = TRUE`

	_, err := pool.Exec(ctx, upsert, uuid.New().String(), hash, "seed", []string{"orders", "coupons", "products"})
	if err != nil {
		return errors.Wrap(err, "upsert api key")
	}

	slog.Info("seeded api key")
	return nil
}
