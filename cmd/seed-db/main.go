// Command seed-db loads demo catalog items, vouchers, a cart and a session
// token into the database. Re-running it is safe.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/joho/godotenv/autoload"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/checkout-engine/internal/domain/auth"
	"github.com/xenking/checkout-engine/internal/domain/money"
	"github.com/xenking/checkout-engine/internal/domain/voucher"
	"github.com/xenking/checkout-engine/internal/storage/postgres"
)

// demoUserID owns the seeded cart and session.
var demoUserID = uuid.MustParse("7d3f6c1e-2b4a-4f0e-9c55-0a1b2c3d4e5f")

type catalogItem struct {
	ID       int64
	Name     string
	Price    decimal.Decimal
	Category string
}

type seedVoucher struct {
	Code           string
	Type           voucher.Type
	Value          string
	MaxDiscount    string
	MinOrderAmount string
	MinQuantity    int
	Categories     []string
	UsageLimit     *int
}

func limit(n int) *int { return &n }

var vouchers = []seedVoucher{
	{Code: "WELCOME10", Type: voucher.TypePercentage, Value: "10", MaxDiscount: "50000"},
	{Code: "SAVE50K", Type: voucher.TypeFixedAmount, Value: "50000", MinOrderAmount: "300000"},
	{Code: "FREESHIP", Type: voucher.TypeFreeShip, Value: "0", MinQuantity: 2},
	{Code: "KITCHEN20", Type: voucher.TypePercentage, Value: "20", Categories: []string{"kitchen"}, UsageLimit: limit(100)},
}

func main() {
	var (
		databaseURL string
		catalogFile string
		token       string
		pepper      string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "db/seed/catalog.json", "path to catalog JSON file")
	flag.StringVar(&token, "session-token", "", "bearer token to seed for the demo user (or CHECKOUT_SEED_SESSION_TOKEN env)")
	flag.StringVar(&pepper, "auth-pepper", "", "HMAC pepper for session token hashing (or CHECKOUT_AUTH_PEPPER env)")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}
	if token == "" {
		token = os.Getenv("CHECKOUT_SEED_SESSION_TOKEN")
	}
	if pepper == "" {
		pepper = os.Getenv("CHECKOUT_AUTH_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, catalogFile, token, pepper); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, catalogFile, token, pepper string) error {
	lg.Info("Connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL, postgres.PoolConfig{MaxConns: 2})
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	items, err := readCatalog(catalogFile)
	if err != nil {
		return errors.Wrap(err, "read catalog")
	}
	if err := seedCatalog(ctx, lg, pool, items); err != nil {
		return errors.Wrap(err, "seed catalog")
	}
	if err := seedVouchers(ctx, lg, pool); err != nil {
		return errors.Wrap(err, "seed vouchers")
	}
	if err := seedCart(ctx, lg, pool, items); err != nil {
		return errors.Wrap(err, "seed cart")
	}
	if token == "" {
		lg.Info("No session token given, skipping session")
		return nil
	}
	return errors.Wrap(seedSession(ctx, lg, pool, token, pepper), "seed session")
}

func readCatalog(path string) ([]catalogItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var items []catalogItem
	err = jx.DecodeBytes(data).Arr(func(d *jx.Decoder) error {
		var it catalogItem
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			switch key {
			case "id":
				v, err := d.Int64()
				it.ID = v
				return err
			case "name":
				v, err := d.Str()
				it.Name = v
				return err
			case "price":
				v, err := d.Str()
				if err != nil {
					return err
				}
				it.Price, err = money.Parse(v)
				return err
			case "category":
				v, err := d.Str()
				it.Category = v
				return err
			default:
				return d.Skip()
			}
		}); err != nil {
			return err
		}
		items = append(items, it)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode catalog")
	}
	return items, nil
}

func seedCatalog(ctx context.Context, lg *zap.Logger, pool *pgxpool.Pool, items []catalogItem) error {
	batch := &pgx.Batch{}
	for _, it := range items {
		batch.Queue(`
			INSERT INTO catalog_items (id, name, price, category)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE
			SET name = EXCLUDED.name, price = EXCLUDED.price, category = EXCLUDED.category,
			    active = TRUE, updated_at = now()`,
			it.ID, it.Name, it.Price, it.Category)
	}
	// Explicit ids leave the serial behind.
	batch.Queue(`SELECT setval('catalog_items_id_seq', (SELECT MAX(id) FROM catalog_items))`)

	if err := pool.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}
	lg.Info("Upserted catalog items", zap.Int("count", len(items)))
	return nil
}

func optDecimal(s string) decimal.NullDecimal {
	if s == "" {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func seedVouchers(ctx context.Context, lg *zap.Logger, pool *pgxpool.Pool) error {
	batch := &pgx.Batch{}
	for _, v := range vouchers {
		// used_count is left alone so reseeding never refunds redemptions.
		batch.Queue(`
			INSERT INTO vouchers (code, discount_type, value, max_discount, min_order_amount,
			                      min_quantity, applicable_categories, usage_limit)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (UPPER(code)) DO UPDATE
			SET discount_type = EXCLUDED.discount_type, value = EXCLUDED.value,
			    max_discount = EXCLUDED.max_discount, min_order_amount = EXCLUDED.min_order_amount,
			    min_quantity = EXCLUDED.min_quantity, applicable_categories = EXCLUDED.applicable_categories,
			    usage_limit = EXCLUDED.usage_limit, active = TRUE, updated_at = now()`,
			v.Code, string(v.Type), decimal.RequireFromString(v.Value), optDecimal(v.MaxDiscount),
			optDecimal(v.MinOrderAmount), v.MinQuantity, v.Categories, v.UsageLimit)
	}
	if err := pool.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}
	for _, v := range vouchers {
		lg.Info("Upserted voucher", zap.String("code", v.Code), zap.String("type", string(v.Type)))
	}
	return nil
}

func seedCart(ctx context.Context, lg *zap.Logger, pool *pgxpool.Pool, items []catalogItem) error {
	if len(items) == 0 {
		return nil
	}
	cartID := uuid.New()
	batch := &pgx.Batch{}
	batch.Queue(`
		INSERT INTO carts (id, user_id) VALUES ($1, $2)
		ON CONFLICT (user_id) WHERE status = 'ACTIVE' DO NOTHING`, cartID, demoUserID)
	batch.Queue(`
		INSERT INTO cart_items (cart_id, item_id, quantity)
		SELECT c.id, $2, 1 FROM carts c WHERE c.user_id = $1 AND c.status = 'ACTIVE'
		ON CONFLICT DO NOTHING`, demoUserID, items[0].ID)
	if err := pool.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}
	lg.Info("Ensured active cart", zap.Stringer("user_id", demoUserID))
	return nil
}

func seedSession(ctx context.Context, lg *zap.Logger, pool *pgxpool.Pool, token, pepper string) error {
	if _, err := pool.Exec(ctx, `
		INSERT INTO sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET expires_at = EXCLUDED.expires_at, revoked = FALSE`,
		auth.HashToken([]byte(pepper), token), demoUserID, time.Now().Add(30*24*time.Hour),
	); err != nil {
		return err
	}
	lg.Info("Upserted session", zap.Stringer("user_id", demoUserID))
	return nil
}
