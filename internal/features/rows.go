// Package features turns validated requests and their collaborator context
// into the inputs the model backends consume.
package features

import (
	"strconv"
	"strings"

	"sokoyetu-ai/internal/domain"
	"sokoyetu-ai/internal/model"
)

// Feature names shared by the row builders and the model declarations.
const (
	CategoryID      = "category_id"
	Quantity        = "quantity"
	CountryID       = "country_id"
	CountyID        = "county_id"
	Season          = "season"
	Month           = "month"
	Year            = "year"
	HistoricalYield = "historical_yield_3yr_avg"
)

// PriceFields declares the price row schema in row order. Ids are nominal
// so they are encoded as categories.
func PriceFields() []model.Field {
	return []model.Field{
		{Name: CategoryID, Categorical: true},
		{Name: Quantity},
		{Name: CountryID, Categorical: true},
		{Name: CountyID, Categorical: true},
		{Name: Season, Categorical: true, Vocabulary: append([]string(nil), domain.Seasons...)},
		{Name: Month},
	}
}

// YieldFields declares the yield row schema in row order.
func YieldFields() []model.Field {
	return []model.Field{
		{Name: CategoryID, Categorical: true},
		{Name: CountryID, Categorical: true},
		{Name: CountyID, Categorical: true},
		{Name: Month},
		{Name: Year},
		{Name: HistoricalYield},
	}
}

// BuildPriceRow builds the price feature row. The month comes from the
// context's period, an absent county becomes 0 and seasons outside the
// vocabulary become unknown.
func BuildPriceRow(req domain.PriceRequest, ctx domain.PriceContext) model.FeatureRow {
	return model.FeatureRow{
		model.Cat(CategoryID, id(req.CategoryID)),
		model.Num(Quantity, req.Quantity),
		model.Cat(CountryID, id(req.CountryID)),
		model.Cat(CountyID, id(req.CountyID)),
		model.Cat(Season, NormalizeSeason(req.Season)),
		model.Num(Month, float64(ctx.Period.Month())),
	}
}

// BuildYieldRow builds the yield feature row. Month and year come from the
// forecast date; a missing trailing average becomes 0.
func BuildYieldRow(req domain.YieldRequest, ctx domain.YieldContext) model.FeatureRow {
	avg := 0.0
	if ctx.HasHistory {
		avg = ctx.TrailingAverage
	}
	return model.FeatureRow{
		model.Cat(CategoryID, id(req.CategoryID)),
		model.Cat(CountryID, id(req.CountryID)),
		model.Cat(CountyID, id(req.CountyID)),
		model.Num(Month, float64(req.ForecastDate.Month())),
		model.Num(Year, float64(req.ForecastDate.Year())),
		model.Num(HistoricalYield, avg),
	}
}

// NormalizeSeason folds a free-form season into the closed vocabulary.
func NormalizeSeason(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, v := range domain.Seasons {
		if s == v {
			return v
		}
	}
	return model.UnknownCategory
}

func id(v int64) string {
	if v < 0 {
		v = 0
	}
	return strconv.FormatInt(v, 10)
}
