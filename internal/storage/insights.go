package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"go.etcd.io/bbolt"
)

// ProductRecord is a marketplace listing that AI insights are written to.
type ProductRecord struct {
	ID               int64     `json:"id" db:"id"`
	Name             string    `json:"name" db:"name"`
	CategoryID       int64     `json:"category_id" db:"category_id"`
	CountryID        int64     `json:"country_id" db:"country_id"`
	CountyID         int64     `json:"county_id" db:"county_id"`
	Price            float64   `json:"price" db:"price"`
	AISuggestedPrice *float64  `json:"ai_suggested_price,omitempty" db:"ai_suggested_price"`
	AIQualityGrade   string    `json:"ai_quality_grade,omitempty" db:"ai_quality_grade"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// YieldForecastRecord is a persisted yield forecast.
type YieldForecastRecord struct {
	ID              int64     `json:"id" db:"id"`
	UserID          int64     `json:"user_id" db:"user_id"`
	ProductID       int64     `json:"product_id,omitempty" db:"product_id"`
	CategoryID      int64     `json:"category_id" db:"category_id"`
	ForecastedYield float64   `json:"forecasted_yield" db:"forecasted_yield"`
	ConfidenceScore float64   `json:"confidence_score" db:"confidence_score"`
	ForecastDate    time.Time `json:"forecast_date" db:"forecast_date"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// Insight is what one prediction writes back to the data layer. Product
// fields are applied only when ProductID is set.
type Insight struct {
	ProductID      int64
	SuggestedPrice *float64
	QualityGrade   string
	Forecast       *YieldForecastRecord
}

func (in Insight) touchesProduct() bool {
	return in.ProductID > 0 && (in.SuggestedPrice != nil || in.QualityGrade != "")
}

func productKey(id int64) []byte {
	return []byte(fmt.Sprintf("%020d", id))
}

// PutProduct creates or replaces a product.
func (s *Store) PutProduct(ctx context.Context, p ProductRecord) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal product: %w", err)
	}
	return s.update(ctx, func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(productsBucket)).Put(productKey(p.ID), data)
	})
}

// Product looks a product up by id.
func (s *Store) Product(ctx context.Context, id int64) (ProductRecord, error) {
	var p ProductRecord
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(productsBucket)).Get(productKey(id))
		if v == nil {
			return fmt.Errorf("%w: %d", ErrProductNotFound, id)
		}
		return json.Unmarshal(v, &p)
	})
	return p, err
}

// SaveInsights applies in within one transaction. Any failure leaves the
// store unchanged. An unknown product is skipped with a warning; the
// prediction it came from still stands.
func (s *Store) SaveInsights(ctx context.Context, in Insight) error {
	now := s.now().UTC()
	return s.update(ctx, func(tx *bbolt.Tx) error {
		if in.touchesProduct() {
			b := tx.Bucket([]byte(productsBucket))
			v := b.Get(productKey(in.ProductID))
			if v == nil {
				log.Warn().Int64("product_id", in.ProductID).Msg("Product not found, insight not written back")
				return s.saveForecast(tx, in, now)
			}
			var p ProductRecord
			if err := json.Unmarshal(v, &p); err != nil {
				return fmt.Errorf("unmarshal product: %w", err)
			}
			if in.SuggestedPrice != nil {
				price := *in.SuggestedPrice
				p.AISuggestedPrice = &price
			}
			if in.QualityGrade != "" {
				p.AIQualityGrade = in.QualityGrade
			}
			p.UpdatedAt = now
			data, err := json.Marshal(p)
			if err != nil {
				return fmt.Errorf("marshal product: %w", err)
			}
			if err := b.Put(productKey(p.ID), data); err != nil {
				return err
			}
		}
		return s.saveForecast(tx, in, now)
	})
}

func (s *Store) saveForecast(tx *bbolt.Tx, in Insight, now time.Time) error {
	if in.Forecast == nil {
		return nil
	}
	b := tx.Bucket([]byte(forecastsBucket))
	seq, err := b.NextSequence()
	if err != nil {
		return err
	}
	rec := *in.Forecast
	rec.ID = int64(seq)
	rec.CreatedAt = now
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal forecast: %w", err)
	}
	return b.Put(productKey(rec.ID), data)
}

// Forecasts lists a user's stored yield forecasts, oldest first. A user id
// of 0 lists all of them.
func (s *Store) Forecasts(ctx context.Context, userID int64) ([]YieldForecastRecord, error) {
	var out []YieldForecastRecord
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(forecastsBucket)).ForEach(func(_, v []byte) error {
			var rec YieldForecastRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return nil
			}
			if userID == 0 || rec.UserID == userID {
				out = append(out, rec)
			}
			return nil
		})
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}
