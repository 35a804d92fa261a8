package interpret

import (
	"sokoyetu-ai/internal/common"
	"sokoyetu-ai/internal/domain"
)

// PricePrediction interprets a predicted price against the market history.
// The trend is increasing only when the prediction is strictly above the
// historical mean.
func PricePrediction(predicted float64, stats domain.PriceStats) domain.PricePrediction {
	trend := domain.TrendDecreasing
	if predicted > stats.Mean {
		trend = domain.TrendIncreasing
	}
	lo, hi := stats.Min, stats.Max
	if lo > hi {
		lo, hi = hi, lo
	}
	return domain.PricePrediction{
		PredictedPrice:  predicted,
		Currency:        common.DefaultCurrency,
		PriceRange:      domain.PriceRange{Min: lo, Max: hi},
		MarketTrend:     trend,
		ConfidenceScore: common.PriceConfidence,
	}
}
