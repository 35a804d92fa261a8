package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"sokoyetu-ai/internal/common"
	"sokoyetu-ai/internal/domain"
)

// PriceRecord is one observed market price.
type PriceRecord struct {
	CategoryID int64     `json:"category_id" db:"category_id"`
	CountryID  int64     `json:"country_id" db:"country_id"`
	CountyID   int64     `json:"county_id" db:"county_id"`
	Price      float64   `json:"price" db:"price"`
	ObservedAt time.Time `json:"observed_at" db:"created_at"`
}

// YieldRecord is one season's observed yield.
type YieldRecord struct {
	CategoryID int64   `json:"category_id" db:"category_id"`
	CountryID  int64   `json:"country_id" db:"country_id"`
	CountyID   int64   `json:"county_id" db:"county_id"`
	Year       int     `json:"year" db:"year"`
	Yield      float64 `json:"yield" db:"yield"`
}

type pricePoint struct {
	Price float64   `db:"price"`
	At    time.Time `db:"created_at"`
}

func marketPrefix(category, country int64) string {
	return fmt.Sprintf("%d_%d_", category, country)
}

// StorePrice records a price observation.
func (s *Store) StorePrice(ctx context.Context, rec PriceRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal price record: %w", err)
	}
	key := timeKey(fmt.Sprintf("%s%d_", marketPrefix(rec.CategoryID, rec.CountryID), rec.CountyID), rec.ObservedAt)
	return s.update(ctx, func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(pricesBucket)).Put(key, data)
	})
}

// StoreYield records an observed yield.
func (s *Store) StoreYield(ctx context.Context, rec YieldRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal yield record: %w", err)
	}
	key := fmt.Sprintf("%s%d_%04d", marketPrefix(rec.CategoryID, rec.CountryID), rec.CountyID, rec.Year)
	return s.update(ctx, func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(yieldsBucket)).Put([]byte(key), data)
	})
}

// PriceHistory summarises the most recent observations for a category in
// a country. A county of 0 covers the whole country.
func (s *Store) PriceHistory(ctx context.Context, category, country, county int64) (domain.PriceStats, error) {
	var points []pricePoint
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(pricesBucket)).Cursor()
		prefix := []byte(marketPrefix(category, country))
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var rec PriceRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			if county != 0 && rec.CountyID != county {
				continue
			}
			points = append(points, pricePoint{Price: rec.Price, At: rec.ObservedAt})
		}
		return nil
	})
	if err != nil {
		return domain.PriceStats{}, err
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].At.After(points[j].At) })
	if len(points) > common.DefaultPriceHistoryLimit {
		points = points[:common.DefaultPriceHistoryLimit]
	}
	return summarize(points), nil
}

// summarize computes stats over points ordered newest first.
func summarize(points []pricePoint) domain.PriceStats {
	if len(points) == 0 {
		return domain.PriceStats{}
	}
	stats := domain.PriceStats{
		Min:        points[0].Price,
		Max:        points[0].Price,
		Count:      len(points),
		Latest:     points[0].Price,
		LatestDate: points[0].At,
	}
	var sum float64
	for _, p := range points {
		sum += p.Price
		stats.Min = min(stats.Min, p.Price)
		stats.Max = max(stats.Max, p.Price)
	}
	stats.Mean = sum / float64(len(points))
	return stats
}

// YieldAverage averages the yields of the years seasons before asOf's
// year. found is false when there are none.
func (s *Store) YieldAverage(ctx context.Context, category, country, county int64, years int, asOf time.Time) (avg float64, found bool, err error) {
	from, to := yieldWindow(asOf, years)
	var sum float64
	var n int
	err = s.view(ctx, func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(yieldsBucket)).Cursor()
		prefix := []byte(marketPrefix(category, country))
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var rec YieldRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			if county != 0 && rec.CountyID != county {
				continue
			}
			if rec.Year >= from && rec.Year < to {
				sum += rec.Yield
				n++
			}
		}
		return nil
	})
	if err != nil || n == 0 {
		return 0, false, err
	}
	return sum / float64(n), true, nil
}

// yieldWindow is the half-open year range [from, to) preceding asOf.
func yieldWindow(asOf time.Time, years int) (from, to int) {
	if years <= 0 {
		years = common.DefaultYieldHistoryYears
	}
	to = asOf.Year()
	return to - years, to
}
