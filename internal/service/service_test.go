package service

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sokoyetu-ai/internal/common"
	"sokoyetu-ai/internal/domain"
	"sokoyetu-ai/internal/features"
	"sokoyetu-ai/internal/ml"
	"sokoyetu-ai/internal/model"
	"sokoyetu-ai/internal/storage"
	"sokoyetu-ai/internal/tracking"
)

var fixedNow = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

// constantRegressor encodes a regressor artifact that predicts bias for
// every row of fields.
func constantRegressor(t *testing.T, name string, fields []model.Field, bias float64) []byte {
	t.Helper()
	inputs := 0
	for _, f := range fields {
		if f.Categorical {
			inputs += len(f.Vocabulary)
		} else {
			inputs++
		}
	}
	means := make([]float64, len(fields))
	scales := make([]float64, len(fields))
	for i := range scales {
		scales[i] = 1
	}
	data, err := json.Marshal(map[string]any{
		"format_version": model.ArtifactVersion,
		"kind":           model.KindRegressor,
		"spec": model.Spec{
			Name:        name,
			Kind:        model.KindRegressor,
			Fields:      fields,
			NonNegative: true,
		},
		"params": []map[string]any{
			{"name": "weight", "shape": []int{1, max(inputs, 1)}, "data": make([]float64, max(inputs, 1))},
			{"name": "bias", "shape": []int{1}, "data": []float64{bias}},
		},
		"scaler": map[string]any{"means": means, "scales": scales},
	})
	require.NoError(t, err)
	return data
}

type fakeHistory struct {
	mu       sync.Mutex
	stats    domain.PriceStats
	avg      float64
	found    bool
	err      error
	asOf     time.Time
	requests int
}

func (h *fakeHistory) PriceHistory(context.Context, int64, int64, int64) (domain.PriceStats, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.requests++
	return h.stats, h.err
}

func (h *fakeHistory) YieldAverage(_ context.Context, _, _, _ int64, _ int, asOf time.Time) (float64, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.requests++
	h.asOf = asOf
	return h.avg, h.found, h.err
}

type fakeInsights struct {
	mu    sync.Mutex
	saved []storage.Insight
	err   error
}

func (f *fakeInsights) SaveInsights(_ context.Context, in storage.Insight) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, in)
	return nil
}

type fakeCategories map[int64][]string

func (c fakeCategories) ExpectedTypes(_ context.Context, id int64) ([]string, error) {
	types, ok := c[id]
	if !ok {
		return nil, storage.ErrCategoryNotFound
	}
	return types, nil
}

type brokenStore struct{}

func (brokenStore) PutRun(context.Context, tracking.Run, []byte) error {
	return errors.New("tracking server unreachable")
}
func (brokenStore) Runs(context.Context, tracking.Query) ([]tracking.Run, error) {
	return nil, errors.New("tracking server unreachable")
}
func (brokenStore) Artifact(context.Context, string) ([]byte, error) {
	return nil, errors.New("tracking server unreachable")
}

type countingMetrics struct {
	mu       sync.Mutex
	ok       map[string]int
	failures map[string]int
	timeouts int
	degraded int
	dropped  int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{ok: map[string]int{}, failures: map[string]int{}}
}

func (m *countingMetrics) PredictionsInc(v string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ok[v]++
}

func (m *countingMetrics) FailuresInc(v, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[v+"/"+kind]++
}

func (m *countingMetrics) TimeoutsInc(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeouts++
}

func (m *countingMetrics) DegradedInc(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.degraded++
}

func (m *countingMetrics) LatencyObserve(string, float64) {}

func (m *countingMetrics) PredictionLogDroppedInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped++
}

// blockingLogger holds every prediction log until release is closed.
type blockingLogger struct {
	entered chan string
	release chan struct{}
	mu      sync.Mutex
	logged  []string
}

func newBlockingLogger() *blockingLogger {
	return &blockingLogger{entered: make(chan string, 16), release: make(chan struct{})}
}

func (l *blockingLogger) LogPrediction(_ context.Context, name string, _, _ map[string]any, _ map[string]string) bool {
	l.entered <- name
	<-l.release
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logged = append(l.logged, name)
	return true
}

type fixture struct {
	svc       *Service
	artifacts map[string][]byte
	history   *fakeHistory
	insights  *fakeInsights
	runs      *tracking.MemoryStore
	metrics   *countingMetrics
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CropImageSize = 16
	cfg.GradeImageSize = 16
	cfg.InferenceTimeout = 2 * time.Second
	return cfg
}

func newFixture(t *testing.T, cfg Config, artifacts map[string][]byte, tweak func(*ml.Config, *Deps)) *fixture {
	t.Helper()
	f := &fixture{
		artifacts: artifacts,
		history:   &fakeHistory{},
		insights:  &fakeInsights{},
		runs:      tracking.NewMemoryStore(),
		metrics:   newCountingMetrics(),
	}
	regCfg := ml.Config{
		Specs: ModelSpecs(cfg),
		ReadArtifact: func(path string) ([]byte, error) {
			if data, ok := f.artifacts[path]; ok {
				return data, nil
			}
			return nil, os.ErrNotExist
		},
	}
	deps := Deps{
		Tracker:  tracking.New(f.runs, tracking.Config{}),
		History:  f.history,
		Insights: f.insights,
		Metrics:  f.metrics,
		Now:      func() time.Time { return fixedNow },
	}
	if tweak != nil {
		tweak(&regCfg, &deps)
	}
	reg, err := ml.NewRegistry(regCfg)
	require.NoError(t, err)
	deps.Models = reg
	f.svc, err = New(cfg, deps)
	require.NoError(t, err)
	return f
}

func (f *fixture) predictions(t *testing.T, name string) []tracking.Run {
	t.Helper()
	f.svc.logs.flush()
	runs, err := f.runs.Runs(context.Background(), tracking.Query{Model: name, Type: tracking.RunPrediction})
	require.NoError(t, err)
	return runs
}

func photo(h, w int, v float32) model.Image {
	img := model.NewImage(h, w, 3)
	for i := range img.Data {
		img.Data[i] = v
	}
	return img
}

func priceArtifacts(t *testing.T, bias float64) map[string][]byte {
	return map[string][]byte{
		ml.ArtifactPath("", common.ModelPricePredictor): constantRegressor(t, common.ModelPricePredictor, features.PriceFields(), bias),
	}
}

func TestNewRequiresResolver(t *testing.T) {
	_, err := New(DefaultConfig(), Deps{})
	assert.Error(t, err)
}

func TestPredictPrice(t *testing.T) {
	f := newFixture(t, testConfig(), priceArtifacts(t, 45), nil)
	f.history.stats = domain.PriceStats{Mean: 40, Min: 20, Max: 60, Count: 12}

	res, err := f.svc.PredictPrice(context.Background(), domain.PriceRequest{
		CategoryID: 3, ProductID: 7, Quantity: 50, Unit: "KG", CountryID: 1, Season: "dry",
	})
	require.NoError(t, err)
	assert.InDelta(t, 45.0, res.PredictedPrice, 1e-9)
	assert.Equal(t, domain.TrendIncreasing, res.MarketTrend)
	assert.Equal(t, domain.PriceRange{Min: 20, Max: 60}, res.PriceRange)
	assert.Equal(t, "KES", res.Currency)
	assert.Equal(t, 0.85, res.ConfidenceScore)
	assert.Equal(t, fixedNow, res.PredictionDate)

	require.Len(t, f.insights.saved, 1)
	assert.Equal(t, int64(7), f.insights.saved[0].ProductID)
	require.NotNil(t, f.insights.saved[0].SuggestedPrice)
	assert.InDelta(t, 45.0, *f.insights.saved[0].SuggestedPrice, 1e-9)

	runs := f.predictions(t, common.ModelPricePredictor)
	require.Len(t, runs, 1)
	assert.Equal(t, VerticalPrice, runs[0].Tags[common.TagVertical])
	assert.Empty(t, runs[0].Tags[common.TagDegraded])
	assert.Equal(t, "kg", runs[0].Input["unit"])
	assert.Equal(t, "3", runs[0].Input[features.CategoryID])
	assert.Equal(t, 1, f.metrics.ok[VerticalPrice])
}

func TestPredictPriceBelowMeanIsDecreasing(t *testing.T) {
	f := newFixture(t, testConfig(), priceArtifacts(t, 35), nil)
	f.history.stats = domain.PriceStats{Mean: 40, Min: 20, Max: 60, Count: 12}

	res, err := f.svc.PredictPrice(context.Background(), domain.PriceRequest{CategoryID: 3, Quantity: 5, Unit: "kg", CountryID: 2})
	require.NoError(t, err)
	assert.Equal(t, domain.TrendDecreasing, res.MarketTrend)
	assert.Empty(t, f.insights.saved, "no product id, nothing written back")
}

func TestPredictPriceFloorsNegativeOutput(t *testing.T) {
	f := newFixture(t, testConfig(), priceArtifacts(t, -12), nil)

	res, err := f.svc.PredictPrice(context.Background(), domain.PriceRequest{CategoryID: 1, Quantity: 5, Unit: "bag", CountryID: 1})
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.PredictedPrice)
}

func TestPredictPriceHistoryUnavailable(t *testing.T) {
	f := newFixture(t, testConfig(), priceArtifacts(t, 45), nil)
	f.history.err = errors.New("connection refused")

	res, err := f.svc.PredictPrice(context.Background(), domain.PriceRequest{CategoryID: 1, Quantity: 5, Unit: "kg", CountryID: 1})
	require.NoError(t, err)
	assert.Equal(t, domain.TrendIncreasing, res.MarketTrend)
	assert.Equal(t, domain.PriceRange{}, res.PriceRange)

	runs := f.predictions(t, common.ModelPricePredictor)
	require.Len(t, runs, 1)
	assert.Equal(t, "true", runs[0].Tags[common.TagContextUnavailable])
	assert.Empty(t, runs[0].Tags[common.TagFailed])
}

func TestPredictPriceValidation(t *testing.T) {
	f := newFixture(t, testConfig(), nil, nil)
	cases := map[string]domain.PriceRequest{
		"zero quantity":     {Quantity: 0, Unit: "kg", CountryID: 1},
		"negative quantity": {Quantity: -3, Unit: "kg", CountryID: 1},
		"unknown unit":      {Quantity: 1, Unit: "crate", CountryID: 1},
		"unknown country":   {Quantity: 1, Unit: "kg", CountryID: 9},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.PredictPrice(context.Background(), req)
			assert.ErrorIs(t, err, ErrValidation)
			var se *Error
			require.ErrorAs(t, err, &se)
			assert.Equal(t, VerticalPrice, se.Vertical)
		})
	}
	assert.Zero(t, f.history.requests, "validation precedes context lookups")
	assert.Empty(t, f.predictions(t, common.ModelPricePredictor))
	assert.Equal(t, 4, f.metrics.failures["price/validation"])
}

func TestForecastYieldWithoutHistory(t *testing.T) {
	f := newFixture(t, testConfig(), nil, nil)
	date := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	res, err := f.svc.ForecastYield(context.Background(), domain.YieldRequest{
		UserID: 4, CategoryID: 2, CountryID: 1, ForecastDate: date,
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.ForecastedYield, 0.0)
	assert.Equal(t, date, res.ForecastDate)
	assert.Equal(t, 0.85, res.ConfidenceScore)
	assert.NotEmpty(t, res.Recommendations)

	runs := f.predictions(t, common.ModelYieldForecaster)
	require.Len(t, runs, 1)
	assert.Equal(t, 0.0, runs[0].Input[features.HistoricalYield])
	assert.Equal(t, "true", runs[0].Tags[common.TagDegraded])

	require.Len(t, f.insights.saved, 1)
	fc := f.insights.saved[0].Forecast
	require.NotNil(t, fc)
	assert.Equal(t, int64(4), fc.UserID)
	assert.Equal(t, date, fc.ForecastDate)
	assert.Equal(t, fixedNow, fc.CreatedAt)
}

func TestForecastYieldUsesHistory(t *testing.T) {
	fields := features.YieldFields()
	f := newFixture(t, testConfig(), map[string][]byte{
		ml.ArtifactPath("", common.ModelYieldForecaster): constantRegressor(t, common.ModelYieldForecaster, fields, 2.5),
	}, nil)
	f.history.avg, f.history.found = 3.2, true

	res, err := f.svc.ForecastYield(context.Background(), domain.YieldRequest{UserID: 1, CategoryID: 2, CountryID: 1})
	require.NoError(t, err)
	assert.InDelta(t, 2.5, res.ForecastedYield, 1e-9)
	assert.Equal(t, fixedNow, res.ForecastDate, "zero forecast date means now")
	assert.Equal(t, fixedNow, f.history.asOf)

	runs := f.predictions(t, common.ModelYieldForecaster)
	require.Len(t, runs, 1)
	assert.Equal(t, 3.2, runs[0].Input[features.HistoricalYield])
	assert.Empty(t, runs[0].Tags[common.TagDegraded])
}

func TestForecastYieldHistoryUnavailable(t *testing.T) {
	fields := features.YieldFields()
	f := newFixture(t, testConfig(), map[string][]byte{
		ml.ArtifactPath("", common.ModelYieldForecaster): constantRegressor(t, common.ModelYieldForecaster, fields, 2.5),
	}, nil)
	f.history.err = errors.New("connection refused")

	res, err := f.svc.ForecastYield(context.Background(), domain.YieldRequest{UserID: 1, CategoryID: 2, CountryID: 1})
	require.NoError(t, err)
	assert.InDelta(t, 2.5, res.ForecastedYield, 1e-9)

	runs := f.predictions(t, common.ModelYieldForecaster)
	require.Len(t, runs, 1)
	assert.Equal(t, 0.0, runs[0].Input[features.HistoricalYield])
	assert.Equal(t, "true", runs[0].Tags[common.TagContextUnavailable])
}

func TestForecastYieldPersistenceFailure(t *testing.T) {
	f := newFixture(t, testConfig(), nil, nil)
	f.insights.err = errors.New("disk full")

	_, err := f.svc.ForecastYield(context.Background(), domain.YieldRequest{UserID: 1, CategoryID: 2, CountryID: 1})
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, "persistence", KindLabel(err))

	runs := f.predictions(t, common.ModelYieldForecaster)
	require.Len(t, runs, 1)
	assert.Equal(t, "true", runs[0].Tags[common.TagFailed])
	assert.Contains(t, runs[0].Output["error"], "disk full")
}

func TestAnalyzeCropDegraded(t *testing.T) {
	f := newFixture(t, testConfig(), nil, nil)

	res, err := f.svc.AnalyzeCrop(context.Background(), domain.CropAnalysisRequest{
		ImageURL:      "https://res.cloudinary.com/demo/leaf.jpg",
		CategoryID:    1,
		CountryID:     1,
		ExpectedTypes: []string{"Maize"},
		Image:         photo(24, 24, 140),
	})
	require.NoError(t, err)
	assert.Equal(t, "healthy", res.Condition)
	assert.InDelta(t, 0.8, res.HealthScore, 1e-9)
	assert.InDelta(t, 0.2, res.Confidence, 1e-9)
	assert.Equal(t, "Maize", res.CropType)
	assert.True(t, res.CropTypeExpected)
	assert.False(t, res.PestDetected)
	assert.Equal(t, fixedNow, res.AnalysisDate)

	runs := f.predictions(t, common.ModelCropAnalyzer)
	require.Len(t, runs, 1)
	assert.Equal(t, "true", runs[0].Tags[common.TagDegraded])
	assert.Equal(t, []int{24, 24, 3}, runs[0].Input["image_shape"])
	assert.Equal(t, 1, f.metrics.degraded)
}

func TestAnalyzeCropExpectedTypesFromCatalog(t *testing.T) {
	f := newFixture(t, testConfig(), nil, func(_ *ml.Config, d *Deps) {
		d.Categories = fakeCategories{3: {"Tomato", "Potato"}}
	})
	req := domain.CropAnalysisRequest{
		ImageURL:   "https://cdn.sokoyetu.africa/p/1.png",
		CategoryID: 3,
		CountryID:  2,
		Image:      photo(16, 16, 0.5),
	}

	res, err := f.svc.AnalyzeCrop(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Possibly Maize (unexpected for category)", res.CropType)
	assert.False(t, res.CropTypeExpected)

	// unknown to the catalog, so the category's own crop type is expected
	req.CategoryID = 1
	res, err = f.svc.AnalyzeCrop(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Maize", res.CropType)

	runs := f.predictions(t, common.ModelCropAnalyzer)
	require.Len(t, runs, 2)
	for _, run := range runs {
		assert.Empty(t, run.Tags[common.TagContextUnavailable])
	}
}

func TestAnalyzeCropValidation(t *testing.T) {
	f := newFixture(t, testConfig(), nil, nil)
	good := photo(16, 16, 10)
	cases := map[string]domain.CropAnalysisRequest{
		"untrusted host":   {ImageURL: "https://evil.example.com/res.cloudinary.com.jpg", CountryID: 1, Image: good},
		"lookalike host":   {ImageURL: "https://notsokoyetu.africa/a.jpg", CountryID: 1, Image: good},
		"not a url":        {ImageURL: "leaf.jpg", CountryID: 1, Image: good},
		"ftp scheme":       {ImageURL: "ftp://localhost/a.jpg", CountryID: 1, Image: good},
		"empty image":      {ImageURL: "http://localhost/a.jpg", CountryID: 1},
		"grayscale image":  {ImageURL: "http://localhost/a.jpg", CountryID: 1, Image: model.NewImage(16, 16, 1)},
		"bad country":      {ImageURL: "http://localhost/a.jpg", CountryID: 0, Image: good},
		"truncated tensor": {ImageURL: "http://localhost/a.jpg", CountryID: 1, Image: model.Image{Height: 4, Width: 4, Channels: 3, Data: []float32{1}}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.AnalyzeCrop(context.Background(), req)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
	_, err := f.svc.AnalyzeCrop(context.Background(), cases["untrusted host"])
	assert.ErrorIs(t, err, ErrUntrustedImage)
}

func TestGradeProduce(t *testing.T) {
	f := newFixture(t, testConfig(), nil, nil)

	res, err := f.svc.GradeProduce(context.Background(), domain.GradingRequest{
		ImageURL:  "http://localhost:9000/mango.jpg",
		ProductID: 11,
		CountryID: 3,
		Image:     photo(20, 20, 200),
	})
	require.NoError(t, err)
	assert.Equal(t, "A", res.QualityGrade)
	assert.InDelta(t, 0.2, res.Confidence, 1e-9)
	assert.NotNil(t, res.Defects)
	assert.Equal(t, fixedNow, res.GradingDate)

	require.Len(t, f.insights.saved, 1)
	assert.Equal(t, storage.Insight{ProductID: 11, QualityGrade: "A"}, f.insights.saved[0])
}

func TestGradeProducePersistenceFailure(t *testing.T) {
	f := newFixture(t, testConfig(), nil, nil)
	f.insights.err = errors.New("database is locked")

	_, err := f.svc.GradeProduce(context.Background(), domain.GradingRequest{
		ImageURL: "http://localhost/a.jpg", ProductID: 11, CountryID: 1, Image: photo(16, 16, 1),
	})
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Contains(t, err.Error(), "database is locked")
}

func TestGradeProduceUnknownProduct(t *testing.T) {
	store, err := storage.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	f := newFixture(t, testConfig(), nil, func(_ *ml.Config, d *Deps) {
		d.Insights = store
	})

	res, err := f.svc.GradeProduce(context.Background(), domain.GradingRequest{
		ImageURL: "http://localhost/a.jpg", ProductID: 404, CountryID: 1, Image: photo(16, 16, 200),
	})
	require.NoError(t, err)
	assert.Equal(t, "A", res.QualityGrade)
	_, err = store.Product(context.Background(), 404)
	assert.ErrorIs(t, err, storage.ErrProductNotFound)
}

func TestBrokenTrackerDoesNotFailPrediction(t *testing.T) {
	f := newFixture(t, testConfig(), priceArtifacts(t, 45), func(_ *ml.Config, d *Deps) {
		d.Tracker = tracking.New(brokenStore{}, tracking.Config{})
	})

	res, err := f.svc.PredictPrice(context.Background(), domain.PriceRequest{CategoryID: 3, Quantity: 50, Unit: "kg", CountryID: 1})
	require.NoError(t, err)
	assert.InDelta(t, 45.0, res.PredictedPrice, 1e-9)

	_, err = f.svc.GradeProduce(context.Background(), domain.GradingRequest{
		ImageURL: "http://localhost/a.jpg", CountryID: 1, Image: photo(16, 16, 1),
	})
	require.NoError(t, err)
}

func TestSlowTrackerDoesNotDelayPrediction(t *testing.T) {
	logger := newBlockingLogger()
	f := newFixture(t, testConfig(), priceArtifacts(t, 45), func(_ *ml.Config, d *Deps) {
		d.Tracker = logger
	})

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.PredictPrice(context.Background(), domain.PriceRequest{CategoryID: 3, Quantity: 5, Unit: "kg", CountryID: 1})
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("prediction waited on the tracker")
	}
	assert.Equal(t, common.ModelPricePredictor, <-logger.entered)

	close(logger.release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.svc.Close(ctx))
	assert.Equal(t, []string{common.ModelPricePredictor}, logger.logged)
}

func TestLogQueueDropsWhenFull(t *testing.T) {
	logger := newBlockingLogger()
	metrics := newCountingMetrics()
	q := newLogQueue(logger, metrics, 1)
	q.start()

	q.enqueue(logEntry{model: "first"})
	assert.Equal(t, "first", <-logger.entered)
	q.enqueue(logEntry{model: "second"}) // buffered
	q.enqueue(logEntry{model: "third"})
	q.enqueue(logEntry{model: "fourth"})
	assert.Equal(t, 2, metrics.dropped)

	close(logger.release)
	q.flush()
	assert.Equal(t, []string{"first", "second"}, logger.logged)

	require.NoError(t, q.close(context.Background()))
	q.enqueue(logEntry{model: "late"})
	assert.Equal(t, 3, metrics.dropped)
}

func TestInferenceTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	cfg := testConfig()
	cfg.InferenceTimeout = 20 * time.Millisecond
	f := newFixture(t, cfg, nil, func(c *ml.Config, _ *Deps) {
		c.ReadArtifact = func(string) ([]byte, error) {
			<-release
			return nil, os.ErrNotExist
		}
	})

	_, err := f.svc.PredictPrice(context.Background(), domain.PriceRequest{CategoryID: 1, Quantity: 1, Unit: "kg", CountryID: 1})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, f.metrics.timeouts)

	runs := f.predictions(t, common.ModelPricePredictor)
	require.Len(t, runs, 1)
	assert.Equal(t, "true", runs[0].Tags[common.TagFailed])
}

func TestKindMismatchIsInferenceFailure(t *testing.T) {
	f := newFixture(t, testConfig(), nil, nil)
	f.svc.cfg.Models.Price = common.ModelCropAnalyzer

	_, err := f.svc.PredictPrice(context.Background(), domain.PriceRequest{CategoryID: 1, Quantity: 1, Unit: "kg", CountryID: 1})
	assert.ErrorIs(t, err, ErrInference)
	assert.ErrorIs(t, err, ml.ErrKindMismatch)
}

func TestConcurrentVerticals(t *testing.T) {
	f := newFixture(t, testConfig(), priceArtifacts(t, 45), nil)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := f.svc.PredictPrice(context.Background(), domain.PriceRequest{CategoryID: 3, Quantity: 2, Unit: "kg", CountryID: 1})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := f.svc.AnalyzeCrop(context.Background(), domain.CropAnalysisRequest{
				ImageURL: "https://localhost/a.png", CategoryID: 1, CountryID: 1, Image: photo(16, 16, 3),
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	reg := f.svc.deps.Models.(*ml.Registry)
	assert.Equal(t, 1, reg.Loads(common.ModelPricePredictor))
	assert.Equal(t, 1, reg.Loads(common.ModelCropAnalyzer))
	assert.Len(t, f.predictions(t, common.ModelPricePredictor), 16)
}
