package main

import (
	"context"
	"encoding/csv"
	"io"
	"math/bits"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/checkout-engine/internal/domain/money"
	"github.com/xenking/checkout-engine/internal/domain/voucher"
)

const (
	bloomFPR      = 0.001
	minBloomItems = 1024
	maxBatches    = 64
	upsertChunk   = 1000
)

// row is one voucher definition read from a batch file.
type row struct {
	Line           int
	Code           string
	Type           voucher.Type
	Value          decimal.Decimal
	MaxDiscount    decimal.NullDecimal
	MinOrderAmount decimal.NullDecimal
	MinQuantity    int
	Categories     []string
	ValidFrom      *time.Time
	ValidTo        *time.Time
	UsageLimit     *int
}

// batch holds the parsed rows of one source and a bloom filter over their codes.
type batch struct {
	Source  string
	Rows    []row
	Invalid int
	filter  *bloom.BloomFilter
}

// opener opens a batch source for reading.
type opener func(ctx context.Context, source string) (io.ReadCloser, error)

// sourceOpener reads local paths directly and s3://bucket/key sources through
// an S3 client created on first use.
func sourceOpener(lg *zap.Logger) opener {
	client := sync.OnceValues(func() (*s3.Client, error) {
		cfg, err := config.LoadDefaultConfig(context.Background())
		if err != nil {
			return nil, errors.Wrap(err, "load AWS configuration")
		}
		return s3.NewFromConfig(cfg), nil
	})

	return func(ctx context.Context, source string) (io.ReadCloser, error) {
		bucket, key, ok := parseS3URL(source)
		if !ok {
			return os.Open(source)
		}
		c, err := client()
		if err != nil {
			return nil, err
		}
		lg.Info("Fetching batch from S3", zap.String("bucket", bucket), zap.String("key", key))
		out, err := c.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return nil, errors.Wrapf(err, "get s3://%s/%s", bucket, key)
		}
		return out.Body, nil
	}
}

func parseS3URL(source string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(source, "s3://")
	if !found {
		return "", "", false
	}
	bucket, key, found = strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}

// readBatches parses every source concurrently.
func readBatches(ctx context.Context, lg *zap.Logger, open opener, sources []string) ([]*batch, error) {
	if len(sources) > maxBatches {
		return nil, errors.Errorf("at most %d batch files per run, got %d", maxBatches, len(sources))
	}

	batches := make([]*batch, len(sources))
	g, ctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		g.Go(func() error {
			b, err := readBatch(ctx, lg, open, src)
			if err != nil {
				return errors.Wrapf(err, "read %s", src)
			}
			batches[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return batches, nil
}

func readBatch(ctx context.Context, lg *zap.Logger, open opener, source string) (*batch, error) {
	rc, err := open(ctx, source)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	gz, err := pgzip.NewReader(rc)
	if err != nil {
		return nil, errors.Wrap(err, "create gzip reader")
	}
	defer func() { _ = gz.Close() }()

	r := csv.NewReader(gz)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	cols, err := columnIndex(header)
	if err != nil {
		return nil, err
	}
	r.FieldsPerRecord = len(header)

	b := &batch{Source: source}
	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		v, err := parseRow(cols, rec)
		if err != nil {
			b.Invalid++
			lg.Warn("Skipping invalid row",
				zap.String("source", source),
				zap.Int("line", line),
				zap.Error(err),
			)
			continue
		}
		v.Line = line
		b.Rows = append(b.Rows, v)
	}

	b.filter = bloom.NewWithEstimates(uint(max(len(b.Rows), minBloomItems)), bloomFPR)
	for _, v := range b.Rows {
		b.filter.AddString(v.Code)
	}

	lg.Info("Batch parsed",
		zap.String("source", source),
		zap.Int("rows", len(b.Rows)),
		zap.Int("invalid", b.Invalid),
	)
	return b, nil
}

var requiredColumns = []string{"code", "type", "value"}

var knownColumns = map[string]struct{}{
	"code": {}, "type": {}, "value": {}, "max_discount": {}, "min_order_amount": {},
	"min_quantity": {}, "categories": {}, "valid_from": {}, "valid_to": {}, "usage_limit": {},
}

func columnIndex(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		if _, ok := knownColumns[name]; !ok {
			return nil, errors.Errorf("unknown column %q", h)
		}
		cols[name] = i
	}
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			return nil, errors.Errorf("missing column %q", name)
		}
	}
	return cols, nil
}

func parseRow(cols map[string]int, rec []string) (row, error) {
	field := func(name string) string {
		i, ok := cols[name]
		if !ok {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	v := row{
		Code: strings.ToUpper(field("code")),
		Type: voucher.Type(strings.ToUpper(field("type"))),
	}
	if v.Code == "" {
		return row{}, errors.New("empty code")
	}
	if !v.Type.Valid() {
		return row{}, errors.Errorf("unknown type %q", field("type"))
	}

	var err error
	if v.Value, err = nonNegative("value", field("value")); err != nil {
		return row{}, err
	}
	if v.Type == voucher.TypePercentage && v.Value.GreaterThan(decimal.NewFromInt(100)) {
		return row{}, errors.Errorf("percentage %s above 100", v.Value)
	}
	if v.MaxDiscount, err = optionalAmount("max_discount", field("max_discount")); err != nil {
		return row{}, err
	}
	if v.MinOrderAmount, err = optionalAmount("min_order_amount", field("min_order_amount")); err != nil {
		return row{}, err
	}
	if s := field("min_quantity"); s != "" {
		if v.MinQuantity, err = strconv.Atoi(s); err != nil || v.MinQuantity < 0 {
			return row{}, errors.Errorf("min_quantity %q", s)
		}
	}
	if s := field("categories"); s != "" {
		for c := range strings.SplitSeq(s, ";") {
			if c = strings.TrimSpace(c); c != "" {
				v.Categories = append(v.Categories, c)
			}
		}
	}
	if v.ValidFrom, err = optionalTime("valid_from", field("valid_from")); err != nil {
		return row{}, err
	}
	if v.ValidTo, err = optionalTime("valid_to", field("valid_to")); err != nil {
		return row{}, err
	}
	if v.ValidFrom != nil && v.ValidTo != nil && v.ValidTo.Before(*v.ValidFrom) {
		return row{}, errors.New("valid_to before valid_from")
	}
	if s := field("usage_limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return row{}, errors.Errorf("usage_limit %q", s)
		}
		v.UsageLimit = &n
	}
	return v, nil
}

func nonNegative(name, s string) (decimal.Decimal, error) {
	d, err := money.Parse(s)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, name)
	}
	if d.IsNegative() {
		return decimal.Zero, errors.Errorf("%s must not be negative", name)
	}
	return d, nil
}

func optionalAmount(name, s string) (decimal.NullDecimal, error) {
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := nonNegative(name, s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

func optionalTime(name, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, errors.Wrap(err, name)
	}
	return &t, nil
}

// ambiguousCodes returns codes defined in more than one batch. Bloom filters
// narrow the candidates; membership is then confirmed against the rows.
func ambiguousCodes(batches []*batch) map[string]struct{} {
	candidates := make(map[string]struct{})
	for i, b := range batches {
		for _, v := range b.Rows {
			for j, other := range batches {
				if j != i && other.filter.TestString(v.Code) {
					candidates[v.Code] = struct{}{}
					break
				}
			}
		}
	}

	masks := make(map[string]uint64, len(candidates))
	for i, b := range batches {
		for _, v := range b.Rows {
			if _, ok := candidates[v.Code]; ok {
				masks[v.Code] |= 1 << uint(i)
			}
		}
	}

	ambiguous := make(map[string]struct{})
	for code, mask := range masks {
		if bits.OnesCount64(mask) >= 2 {
			ambiguous[code] = struct{}{}
		}
	}
	return ambiguous
}

// upsertQuery updates definitions but never used_count. A usage_limit below
// the current used_count leaves the stored voucher unchanged.
const upsertQuery = `
	INSERT INTO vouchers (code, discount_type, value, max_discount, min_order_amount, min_quantity,
	                      applicable_categories, valid_from, valid_to, usage_limit)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (UPPER(code)) DO UPDATE
	SET discount_type         = EXCLUDED.discount_type,
	    value                 = EXCLUDED.value,
	    max_discount          = EXCLUDED.max_discount,
	    min_order_amount      = EXCLUDED.min_order_amount,
	    min_quantity          = EXCLUDED.min_quantity,
	    applicable_categories = EXCLUDED.applicable_categories,
	    valid_from            = EXCLUDED.valid_from,
	    valid_to              = EXCLUDED.valid_to,
	    usage_limit           = EXCLUDED.usage_limit,
	    active                = TRUE,
	    updated_at            = now()
	WHERE EXCLUDED.usage_limit IS NULL OR EXCLUDED.usage_limit >= vouchers.used_count`

// upsertStats summarizes a write pass.
type upsertStats struct {
	Written int
	Kept    int
}

func upsertVouchers(ctx context.Context, lg *zap.Logger, pool *pgxpool.Pool, rows []row) (upsertStats, error) {
	var stats upsertStats
	for start := 0; start < len(rows); start += upsertChunk {
		chunk := rows[start:min(start+upsertChunk, len(rows))]

		b := &pgx.Batch{}
		for _, v := range chunk {
			b.Queue(upsertQuery,
				v.Code, string(v.Type), v.Value, v.MaxDiscount, v.MinOrderAmount, v.MinQuantity,
				v.Categories, v.ValidFrom, v.ValidTo, v.UsageLimit)
		}

		res := pool.SendBatch(ctx, b)
		for _, v := range chunk {
			tag, err := res.Exec()
			if err != nil {
				_ = res.Close()
				return stats, errors.Wrapf(err, "upsert %s", v.Code)
			}
			if tag.RowsAffected() == 0 {
				stats.Kept++
				lg.Warn("Usage limit below used count, voucher kept", zap.String("code", v.Code))
				continue
			}
			stats.Written++
		}
		if err := res.Close(); err != nil {
			return stats, errors.Wrap(err, "close batch")
		}
		lg.Info("Write progress", zap.Int("written", start+len(chunk)), zap.Int("total", len(rows)))
	}
	return stats, nil
}

// plan drops ambiguous codes and returns the rows to write in source order.
// Within one batch the last row for a code wins.
func plan(batches []*batch, ambiguous map[string]struct{}) []row {
	var out []row
	for _, b := range batches {
		for _, v := range b.Rows {
			if _, skip := ambiguous[v.Code]; skip {
				continue
			}
			out = append(out, v)
		}
	}
	return out
}
