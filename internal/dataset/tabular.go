// Package dataset loads offline training data: tabular CSV exports for the
// regressors and labelled image folders for the classifiers.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"sokoyetu-ai/internal/domain"
	"sokoyetu-ai/internal/features"
	"sokoyetu-ai/internal/model"
	"sokoyetu-ai/internal/storage"
)

const dateLayout = "2006-01-02"

var ErrMissingColumn = errors.New("missing required column")

// PriceRow is one historical sale: the request it would have been and the
// price it fetched.
type PriceRow struct {
	Request    domain.PriceRequest
	ObservedAt time.Time
	Price      float64
}

// YieldRow is one observed harvest with the trailing average known at the
// time.
type YieldRow struct {
	Request         domain.YieldRequest
	TrailingAverage float64
	HasHistory      bool
	Yield           float64
}

type csvTable struct {
	path    string
	indices map[string]int
	skipped int
}

func (t *csvTable) require(cols ...string) error {
	for _, c := range cols {
		if _, ok := t.indices[c]; !ok {
			return fmt.Errorf("%s: %w %q", t.path, ErrMissingColumn, c)
		}
	}
	return nil
}

func (t *csvTable) str(rec []string, col string) string {
	idx, ok := t.indices[col]
	if !ok || idx >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[idx])
}

func (t *csvTable) float(rec []string, col string) (float64, error) {
	return strconv.ParseFloat(t.str(rec, col), 64)
}

// id parses an optional id column; blank means 0.
func (t *csvTable) id(rec []string, col string) (int64, error) {
	v := t.str(rec, col)
	if v == "" {
		return 0, nil
	}
	return strconv.ParseInt(v, 10, 64)
}

// readCSV streams the records of path to fn. Rows fn rejects are skipped
// and counted.
func readCSV(path string, required []string, fn func(t *csvTable, rec []string) error) (*csvTable, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	t := &csvTable{path: path, indices: make(map[string]int, len(header))}
	for i, col := range header {
		t.indices[strings.ToLower(strings.TrimSpace(col))] = i
	}
	if err := t.require(required...); err != nil {
		return nil, err
	}

	line := 1
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, line, err)
		}
		if err := fn(t, rec); err != nil {
			t.skipped++
			log.Debug().Err(err).Str("file", path).Int("line", line).Msg("Skipping row")
		}
	}
	return t, nil
}

// LoadPriceCSV reads price history with the columns category_id, quantity,
// country_id, date and price, plus optional county_id, season and unit.
// Rows are returned oldest first.
func LoadPriceCSV(path string) ([]PriceRow, error) {
	var rows []PriceRow
	t, err := readCSV(path, []string{features.CategoryID, features.Quantity, features.CountryID, "date", "price"},
		func(t *csvTable, rec []string) error {
			var (
				row  PriceRow
				errs []error
				err  error
			)
			row.Request.CategoryID, err = t.id(rec, features.CategoryID)
			errs = append(errs, err)
			row.Request.CountryID, err = t.id(rec, features.CountryID)
			errs = append(errs, err)
			row.Request.CountyID, err = t.id(rec, features.CountyID)
			errs = append(errs, err)
			row.Request.Quantity, err = t.float(rec, features.Quantity)
			errs = append(errs, err)
			row.Price, err = t.float(rec, "price")
			errs = append(errs, err)
			row.ObservedAt, err = time.Parse(dateLayout, t.str(rec, "date"))
			errs = append(errs, err)
			if err := errors.Join(errs...); err != nil {
				return err
			}
			if row.Price < 0 {
				return fmt.Errorf("negative price %v", row.Price)
			}
			row.Request.Season = t.str(rec, features.Season)
			row.Request.Unit = strings.ToLower(t.str(rec, "unit"))
			rows = append(rows, row)
			return nil
		})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].ObservedAt.Before(rows[j].ObservedAt) })

	log.Info().Str("file", path).Int("rows", len(rows)).Int("skipped", t.skipped).Msg("Price data loaded")
	return rows, nil
}

// LoadYieldCSV reads yield observations with the columns category_id,
// country_id, date and yield, plus optional county_id, user_id and
// historical_yield_3yr_avg.
func LoadYieldCSV(path string) ([]YieldRow, error) {
	var rows []YieldRow
	t, err := readCSV(path, []string{features.CategoryID, features.CountryID, "date", "yield"},
		func(t *csvTable, rec []string) error {
			var (
				row  YieldRow
				errs []error
				err  error
			)
			row.Request.CategoryID, err = t.id(rec, features.CategoryID)
			errs = append(errs, err)
			row.Request.CountryID, err = t.id(rec, features.CountryID)
			errs = append(errs, err)
			row.Request.CountyID, err = t.id(rec, features.CountyID)
			errs = append(errs, err)
			row.Request.UserID, err = t.id(rec, "user_id")
			errs = append(errs, err)
			row.Yield, err = t.float(rec, "yield")
			errs = append(errs, err)
			row.Request.ForecastDate, err = time.Parse(dateLayout, t.str(rec, "date"))
			errs = append(errs, err)
			if err := errors.Join(errs...); err != nil {
				return err
			}
			if v := t.str(rec, features.HistoricalYield); v != "" {
				avg, err := strconv.ParseFloat(v, 64)
				if err != nil {
					return err
				}
				row.TrailingAverage, row.HasHistory = avg, true
			}
			rows = append(rows, row)
			return nil
		})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Request.ForecastDate.Before(rows[j].Request.ForecastDate)
	})

	log.Info().Str("file", path).Int("rows", len(rows)).Int("skipped", t.skipped).Msg("Yield data loaded")
	return rows, nil
}

// PriceSamples builds regressor samples with the same row builder the
// service uses, so training and serving see identical features.
func PriceSamples(rows []PriceRow) []model.Sample {
	out := make([]model.Sample, 0, len(rows))
	for _, r := range rows {
		row := features.BuildPriceRow(r.Request, domain.PriceContext{Period: r.ObservedAt})
		out = append(out, model.Sample{Row: row, Target: r.Price})
	}
	return out
}

// YieldSamples builds yield regressor samples.
func YieldSamples(rows []YieldRow) []model.Sample {
	out := make([]model.Sample, 0, len(rows))
	for _, r := range rows {
		yctx := domain.YieldContext{TrailingAverage: r.TrailingAverage, HasHistory: r.HasHistory}
		out = append(out, model.Sample{Row: features.BuildYieldRow(r.Request, yctx), Target: r.Yield})
	}
	return out
}

// PriceRecords converts rows into history records for the data layer.
func PriceRecords(rows []PriceRow) []storage.PriceRecord {
	out := make([]storage.PriceRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, storage.PriceRecord{
			CategoryID: r.Request.CategoryID,
			CountryID:  r.Request.CountryID,
			CountyID:   r.Request.CountyID,
			Price:      r.Price,
			ObservedAt: r.ObservedAt,
		})
	}
	return out
}

// YieldRecords converts rows into per-year history records.
func YieldRecords(rows []YieldRow) []storage.YieldRecord {
	out := make([]storage.YieldRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, storage.YieldRecord{
			CategoryID: r.Request.CategoryID,
			CountryID:  r.Request.CountryID,
			CountyID:   r.Request.CountyID,
			Year:       r.Request.ForecastDate.Year(),
			Yield:      r.Yield,
		})
	}
	return out
}
