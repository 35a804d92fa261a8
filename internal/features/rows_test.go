package features

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sokoyetu-ai/internal/domain"
	"sokoyetu-ai/internal/model"
)

func TestBuildPriceRow(t *testing.T) {
	req := domain.PriceRequest{CategoryID: 3, Quantity: 50, Unit: "kg", CountryID: 1, Season: "Dry "}
	ctx := domain.PriceContext{
		Stats:  domain.PriceStats{Mean: 40, Min: 20, Max: 60},
		Period: time.Date(2025, time.July, 4, 0, 0, 0, 0, time.UTC),
	}

	row := BuildPriceRow(req, ctx)
	assert.Equal(t, []string{CategoryID, Quantity, CountryID, CountyID, Season, Month}, row.Names())

	f, ok := row.Get(CountyID)
	require.True(t, ok)
	assert.Equal(t, "0", f.Cat)

	f, _ = row.Get(Season)
	assert.Equal(t, "dry", f.Cat)

	f, _ = row.Get(Month)
	assert.Equal(t, 7.0, f.Num)

	f, _ = row.Get(Quantity)
	assert.Equal(t, 50.0, f.Num)

	// pure: same inputs, same row
	assert.Equal(t, row, BuildPriceRow(req, ctx))
}

func TestNormalizeSeason(t *testing.T) {
	assert.Equal(t, "rainy", NormalizeSeason("RAINY"))
	assert.Equal(t, "unknown", NormalizeSeason(""))
	assert.Equal(t, "unknown", NormalizeSeason("monsoon"))
}

func TestBuildYieldRowWithoutHistory(t *testing.T) {
	req := domain.YieldRequest{
		UserID:       9,
		CategoryID:   1,
		CountryID:    2,
		CountyID:     14,
		ForecastDate: time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC),
	}

	row := BuildYieldRow(req, domain.YieldContext{})
	f, ok := row.Get(HistoricalYield)
	require.True(t, ok)
	assert.Equal(t, 0.0, f.Num)

	f, _ = row.Get(Year)
	assert.Equal(t, 2026.0, f.Num)
	f, _ = row.Get(Month)
	assert.Equal(t, 3.0, f.Num)

	// a stale average is ignored when there is no history
	assert.Equal(t, row, BuildYieldRow(req, domain.YieldContext{TrailingAverage: 12}))

	row = BuildYieldRow(req, domain.YieldContext{TrailingAverage: 12.5, HasHistory: true})
	f, _ = row.Get(HistoricalYield)
	assert.Equal(t, 12.5, f.Num)
}

func TestRowsMatchDeclaredFields(t *testing.T) {
	price := BuildPriceRow(domain.PriceRequest{}, domain.PriceContext{})
	for i, f := range PriceFields() {
		assert.Equal(t, f.Name, price[i].Name)
		assert.Equal(t, f.Categorical, price[i].Categorical)
	}
	yield := BuildYieldRow(domain.YieldRequest{}, domain.YieldContext{})
	for i, f := range YieldFields() {
		assert.Equal(t, f.Name, yield[i].Name)
		assert.Equal(t, f.Categorical, yield[i].Categorical)
	}

	spec := model.Spec{Name: "p", Kind: model.KindRegressor, Fields: PriceFields()}
	assert.NoError(t, spec.Validate())
}
