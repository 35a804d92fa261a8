package interpret

import (
	"time"

	"sokoyetu-ai/internal/common"
	"sokoyetu-ai/internal/domain"
)

var yieldRecommendations = []string{
	"Consider rotating crops next season",
	"Increase irrigation during dry spells",
}

// YieldForecast interprets a forecast scalar.
func YieldForecast(forecast float64, forecastDate time.Time) domain.YieldForecast {
	return domain.YieldForecast{
		ForecastedYield: forecast,
		ConfidenceScore: common.YieldConfidence,
		ForecastDate:    forecastDate,
		Recommendations: append([]string(nil), yieldRecommendations...),
	}
}
