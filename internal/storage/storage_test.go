package storage

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sokoyetu-ai/internal/model"
	"sokoyetu-ai/internal/tracking"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNew(t *testing.T) {
	tempDir := t.TempDir()

	store, err := New(tempDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	dbPath := filepath.Join(tempDir, "sokoyetu-data.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
}

func TestNew_InvalidPath(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing", "dir"))
	if err == nil {
		t.Error("Expected error for invalid path, got nil")
	}
}

func TestStore_Close(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	assert.NoError(t, store.Close())
	assert.NoError(t, store.Close())

	assert.NoError(t, (&Store{}).Close())
}

func TestRunsAreImmutableAndOrdered(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		run := tracking.Run{
			ID:        fmt.Sprintf("run-%d", i),
			Model:     "price_predictor",
			Type:      tracking.RunPrediction,
			Tags:      map[string]string{"n": fmt.Sprint(i % 2)},
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}
		require.NoError(t, store.PutRun(ctx, run, nil))
	}

	err := store.PutRun(ctx, tracking.Run{ID: "run-0", CreatedAt: base.Add(time.Minute)}, nil)
	assert.ErrorIs(t, err, tracking.ErrRunExists)

	runs, err := store.Runs(ctx, tracking.Query{Model: "price_predictor"})
	require.NoError(t, err)
	require.Len(t, runs, 5)
	assert.Equal(t, "run-4", runs[0].ID)
	assert.Equal(t, "run-0", runs[4].ID)

	odd, err := store.Runs(ctx, tracking.Query{Tags: map[string]string{"n": "1"}, Limit: 1})
	require.NoError(t, err)
	require.Len(t, odd, 1)
	assert.Equal(t, "run-3", odd[0].ID)

	none, err := store.Runs(ctx, tracking.Query{Type: tracking.RunTraining})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestTrackerOverBolt(t *testing.T) {
	store := newStore(t)
	tr := tracking.New(store, tracking.Config{})

	b, err := model.NewDefault(model.Spec{
		Name:   "produce_grader",
		Kind:   model.KindClassifier,
		Labels: []string{"A", "B", "C", "D", "E"},
		Height: 8, Width: 8, Channels: 3,
	})
	require.NoError(t, err)

	id, ok := tr.LogTraining(context.Background(), tracking.TrainingEntry{
		Model:   b,
		Metrics: map[string]float64{"val_accuracy": 0.6},
		Tags:    map[string]string{"stage": "Production"},
	})
	require.True(t, ok)

	got, err := tr.GetModel(context.Background(), "produce_grader", "Production")
	require.NoError(t, err)
	assert.Equal(t, model.KindClassifier, got.Spec().Kind)

	data, err := store.Artifact(context.Background(), id)
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	_, err = store.Artifact(context.Background(), "nope")
	assert.ErrorIs(t, err, tracking.ErrNotFound)
}

func TestPriceHistory(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	prices := []float64{20, 60, 40, 40}
	for i, p := range prices {
		require.NoError(t, store.StorePrice(ctx, PriceRecord{
			CategoryID: 3, CountryID: 1, CountyID: int64(i % 2), Price: p,
			ObservedAt: base.Add(time.Duration(i) * 24 * time.Hour),
		}))
	}
	// other markets are ignored
	require.NoError(t, store.StorePrice(ctx, PriceRecord{CategoryID: 3, CountryID: 10, Price: 1000, ObservedAt: base}))
	require.NoError(t, store.StorePrice(ctx, PriceRecord{CategoryID: 30, CountryID: 1, Price: 1000, ObservedAt: base}))

	stats, err := store.PriceHistory(ctx, 3, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 40.0, stats.Mean)
	assert.Equal(t, 20.0, stats.Min)
	assert.Equal(t, 60.0, stats.Max)
	assert.Equal(t, 4, stats.Count)
	assert.Equal(t, 40.0, stats.Latest)
	assert.True(t, stats.LatestDate.Equal(base.Add(72*time.Hour)))

	county, err := store.PriceHistory(ctx, 3, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, county.Count)
	assert.Equal(t, 50.0, county.Mean)

	empty, err := store.PriceHistory(ctx, 4, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Count)
	assert.Equal(t, 0.0, empty.Mean)
	assert.True(t, empty.LatestDate.IsZero())
}

func TestPriceHistoryKeepsLatestObservations(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	// 10 old cheap observations followed by 365 recent ones
	for i := 0; i < 375; i++ {
		price := 100.0
		if i < 10 {
			price = 1
		}
		require.NoError(t, store.StorePrice(ctx, PriceRecord{
			CategoryID: 1, CountryID: 2, Price: price,
			ObservedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}
	stats, err := store.PriceHistory(ctx, 1, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 365, stats.Count)
	assert.Equal(t, 100.0, stats.Min)
}

func TestYieldAverage(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	for year, y := range map[int]float64{2021: 100, 2022: 10, 2023: 20, 2024: 30, 2025: 1000} {
		require.NoError(t, store.StoreYield(ctx, YieldRecord{CategoryID: 1, CountryID: 1, CountyID: 5, Year: year, Yield: y}))
	}
	asOf := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	avg, found, err := store.YieldAverage(ctx, 1, 1, 5, 3, asOf)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 20.0, avg)

	avg, found, err = store.YieldAverage(ctx, 1, 1, 0, 3, asOf)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 20.0, avg)

	avg, found, err = store.YieldAverage(ctx, 2, 1, 0, 3, asOf)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 0.0, avg)
}

func TestSaveInsights(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.PutProduct(ctx, ProductRecord{ID: 7, Name: "Tomatoes", CategoryID: 3, CountryID: 1, Price: 40}))

	price := 45.0
	require.NoError(t, store.SaveInsights(ctx, Insight{ProductID: 7, SuggestedPrice: &price}))
	require.NoError(t, store.SaveInsights(ctx, Insight{ProductID: 7, QualityGrade: "B"}))

	p, err := store.Product(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, p.AISuggestedPrice)
	assert.Equal(t, 45.0, *p.AISuggestedPrice)
	assert.Equal(t, "B", p.AIQualityGrade)

	require.NoError(t, store.SaveInsights(ctx, Insight{Forecast: &YieldForecastRecord{
		UserID: 3, CategoryID: 1, ForecastedYield: 12, ConfidenceScore: 0.85,
		ForecastDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}}))
	forecasts, err := store.Forecasts(ctx, 3)
	require.NoError(t, err)
	require.Len(t, forecasts, 1)
	assert.Equal(t, int64(1), forecasts[0].ID)
	assert.False(t, forecasts[0].CreatedAt.IsZero())
}

func TestSaveInsightsSkipsUnknownProduct(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	err := store.SaveInsights(ctx, Insight{
		ProductID:    99,
		QualityGrade: "A",
		Forecast:     &YieldForecastRecord{UserID: 1, ForecastedYield: 5},
	})
	require.NoError(t, err)
	_, err = store.Product(ctx, 99)
	assert.ErrorIs(t, err, ErrProductNotFound)
	forecasts, err := store.Forecasts(ctx, 0)
	require.NoError(t, err)
	require.Len(t, forecasts, 1)
	assert.Equal(t, 5.0, forecasts[0].ForecastedYield)
}

func TestSaveInsightsRollsBack(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.PutProduct(ctx, ProductRecord{ID: 1, Name: "Maize"}))

	// a failing forecast write undoes the product update
	err := store.SaveInsights(ctx, Insight{
		ProductID:    1,
		QualityGrade: "A",
		Forecast:     &YieldForecastRecord{UserID: 1, ForecastedYield: math.NaN()},
	})
	assert.Error(t, err)
	p, err := store.Product(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, p.AIQualityGrade)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, store.SaveInsights(cancelled, Insight{ProductID: 1, QualityGrade: "C"}), context.Canceled)
}

func TestConcurrentAccess(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = store.StorePrice(ctx, PriceRecord{CategoryID: 1, CountryID: 1, Price: float64(i), ObservedAt: base.Add(time.Duration(i) * time.Second)})
			_, _ = store.PriceHistory(ctx, 1, 1, 0)
		}(i)
	}
	wg.Wait()

	stats, err := store.PriceHistory(ctx, 1, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 20, stats.Count)
}

func TestCategories(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.PutCategory(ctx, CategoryRecord{ID: 3, Name: "Vegetables", ExpectedTypes: []string{"Tomato", "Potato"}}))

	types, err := store.ExpectedTypes(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"Tomato", "Potato"}, types)

	_, err = store.ExpectedTypes(ctx, 4)
	assert.ErrorIs(t, err, ErrCategoryNotFound)
}
