package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"sokoyetu-ai/internal/common"
	"sokoyetu-ai/internal/domain"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS products (
	id                 BIGSERIAL PRIMARY KEY,
	name               TEXT NOT NULL DEFAULT '',
	category_id        BIGINT NOT NULL,
	country_id         BIGINT NOT NULL,
	county_id          BIGINT NOT NULL DEFAULT 0,
	price              DOUBLE PRECISION NOT NULL DEFAULT 0,
	ai_suggested_price DOUBLE PRECISION,
	ai_quality_grade   TEXT,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS crop_yield_forecasts (
	id               BIGSERIAL PRIMARY KEY,
	user_id          BIGINT NOT NULL,
	product_id       BIGINT,
	category_id      BIGINT NOT NULL,
	forecasted_yield DOUBLE PRECISION NOT NULL,
	confidence_score DOUBLE PRECISION NOT NULL,
	forecast_date    DATE NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS categories (
	id             BIGSERIAL PRIMARY KEY,
	name           TEXT NOT NULL,
	expected_types TEXT[] NOT NULL DEFAULT '{}'
);
CREATE TABLE IF NOT EXISTS crop_yield_history (
	category_id BIGINT NOT NULL,
	country_id  BIGINT NOT NULL,
	county_id   BIGINT NOT NULL DEFAULT 0,
	year        INT NOT NULL,
	yield       DOUBLE PRECISION NOT NULL
);`

// PGStore reads market history from and writes insights to PostgreSQL.
type PGStore struct {
	db *sqlx.DB
}

// NewPGStore wraps an open connection pool.
func NewPGStore(db *sqlx.DB) *PGStore {
	return &PGStore{db: db}
}

// OpenPostgres connects to dsn and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*PGStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &PGStore{db: db}, nil
}

func (s *PGStore) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the tables the store uses if they are missing.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, pgSchema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// PriceHistory summarises the most recent listing prices for a category
// in a country. A county of 0 covers the whole country.
func (s *PGStore) PriceHistory(ctx context.Context, category, country, county int64) (domain.PriceStats, error) {
	query := `SELECT price, created_at FROM products WHERE category_id = $1 AND country_id = $2`
	args := []any{category, country}
	if county != 0 {
		query += ` AND county_id = $3`
		args = append(args, county)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, common.DefaultPriceHistoryLimit)

	var points []pricePoint
	if err := s.db.SelectContext(ctx, &points, query, args...); err != nil {
		return domain.PriceStats{}, fmt.Errorf("query price history: %w", err)
	}
	return summarize(points), nil
}

// YieldAverage averages the recorded yields of the years seasons before
// asOf's year.
func (s *PGStore) YieldAverage(ctx context.Context, category, country, county int64, years int, asOf time.Time) (float64, bool, error) {
	from, to := yieldWindow(asOf, years)
	query := `SELECT COUNT(*) AS n, COALESCE(AVG(yield), 0) AS avg FROM crop_yield_history
		WHERE category_id = $1 AND country_id = $2 AND year >= $3 AND year < $4`
	args := []any{category, country, from, to}
	if county != 0 {
		query += ` AND county_id = $5`
		args = append(args, county)
	}

	var row struct {
		N   int     `db:"n"`
		Avg float64 `db:"avg"`
	}
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		return 0, false, fmt.Errorf("query yield history: %w", err)
	}
	return row.Avg, row.N > 0, nil
}

// SaveInsights applies in within one transaction and rolls back on any
// failure. An unknown product is skipped with a warning.
func (s *PGStore) SaveInsights(ctx context.Context, in Insight) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if in.touchesProduct() {
		res, err := tx.ExecContext(ctx, `UPDATE products SET
			ai_suggested_price = COALESCE($1::double precision, ai_suggested_price),
			ai_quality_grade = COALESCE(NULLIF($2::text, ''), ai_quality_grade),
			updated_at = now()
			WHERE id = $3`, in.SuggestedPrice, in.QualityGrade, in.ProductID)
		if err != nil {
			return fmt.Errorf("update product: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			log.Warn().Int64("product_id", in.ProductID).Msg("Product not found, insight not written back")
		}
	}

	if in.Forecast != nil {
		_, err := tx.NamedExecContext(ctx, `INSERT INTO crop_yield_forecasts
			(user_id, product_id, category_id, forecasted_yield, confidence_score, forecast_date)
			VALUES (:user_id, NULLIF(CAST(:product_id AS BIGINT), 0), :category_id, :forecasted_yield, :confidence_score, :forecast_date)`,
			in.Forecast)
		if err != nil {
			return fmt.Errorf("insert forecast: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Product looks a product up by id.
func (s *PGStore) Product(ctx context.Context, id int64) (ProductRecord, error) {
	var p ProductRecord
	err := s.db.GetContext(ctx, &p, `SELECT id, name, category_id, country_id, county_id, price,
		ai_suggested_price, COALESCE(ai_quality_grade, '') AS ai_quality_grade, updated_at
		FROM products WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return ProductRecord{}, fmt.Errorf("%w: %d", ErrProductNotFound, id)
	}
	if err != nil {
		return ProductRecord{}, fmt.Errorf("get product %d: %w", id, err)
	}
	return p, nil
}

// ExpectedTypes returns the crop types expected for a category.
func (s *PGStore) ExpectedTypes(ctx context.Context, categoryID int64) ([]string, error) {
	var types pq.StringArray
	err := s.db.QueryRowxContext(ctx, `SELECT expected_types FROM categories WHERE id = $1`, categoryID).Scan(&types)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrCategoryNotFound, categoryID)
	}
	if err != nil {
		return nil, fmt.Errorf("get category %d: %w", categoryID, err)
	}
	return []string(types), nil
}

// PutCategory creates or replaces a category.
func (s *PGStore) PutCategory(ctx context.Context, c CategoryRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO categories (id, name, expected_types) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, expected_types = EXCLUDED.expected_types`,
		c.ID, c.Name, pq.Array(c.ExpectedTypes))
	if err != nil {
		return fmt.Errorf("put category %d: %w", c.ID, err)
	}
	return nil
}
