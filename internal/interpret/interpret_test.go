package interpret

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sokoyetu-ai/internal/domain"
	"sokoyetu-ai/internal/model"
)

func classification(labels []string, probs ...float64) model.Classification {
	best := 0
	for i, p := range probs {
		if p > probs[best] {
			best = i
		}
	}
	return model.Classification{Index: best, Label: labels[best], Probabilities: probs}
}

func TestCropAnalysisHealthScoreFormula(t *testing.T) {
	cond := classification(domain.CropConditions, 0.7, 0.1, 0.1, 0.05, 0.05)
	ctype := classification(domain.CropTypes, 0.9, 0.025, 0.025, 0.025, 0.025)

	out := CropAnalysis(cond, ctype, nil)
	// one minus the probability of the predicted condition, even when healthy
	assert.InDelta(t, 0.3, out.HealthScore, 1e-12)
	assert.Equal(t, "healthy", out.Condition)
	assert.Equal(t, 0.7, out.Confidence)
	assert.False(t, out.PestDetected)
	assert.False(t, out.DiseaseDetected)
	assert.Equal(t, "Maize", out.CropType)
	assert.True(t, out.CropTypeExpected)
	assert.NotEmpty(t, out.Recommendations)
}

func TestCropAnalysisDetections(t *testing.T) {
	ctype := classification(domain.CropTypes, 0.2, 0.2, 0.6, 0, 0)

	pest := CropAnalysis(classification(domain.CropConditions, 0.1, 0.6, 0.1, 0.1, 0.1), ctype, nil)
	assert.True(t, pest.PestDetected)
	assert.False(t, pest.DiseaseDetected)

	disease := CropAnalysis(classification(domain.CropConditions, 0.1, 0.1, 0.6, 0.1, 0.1), ctype, nil)
	assert.True(t, disease.DiseaseDetected)
	assert.False(t, disease.PestDetected)

	water := CropAnalysis(classification(domain.CropConditions, 0.1, 0.1, 0.1, 0.1, 0.6), ctype, nil)
	assert.Contains(t, water.Recommendations, "Increase watering frequency")
}

func TestCropAnalysisUnexpectedType(t *testing.T) {
	cond := classification(domain.CropConditions, 0.2, 0.2, 0.2, 0.2, 0.2)
	ctype := classification(domain.CropTypes, 0.1, 0.1, 0.1, 0.6, 0.1)

	out := CropAnalysis(cond, ctype, []string{"Maize", "Wheat"})
	assert.Equal(t, "Possibly Potato (unexpected for category)", out.CropType)
	assert.False(t, out.CropTypeExpected)

	out = CropAnalysis(cond, ctype, []string{"potato"})
	assert.Equal(t, "Potato", out.CropType)
	assert.True(t, out.CropTypeExpected)

	// uniform probabilities pick the first condition
	assert.Equal(t, "healthy", out.Condition)
	assert.InDelta(t, 0.8, out.HealthScore, 1e-12)
}

func TestPricePrediction(t *testing.T) {
	stats := domain.PriceStats{Mean: 40, Min: 20, Max: 60, Count: 10}

	out := PricePrediction(45, stats)
	assert.Equal(t, 45.0, out.PredictedPrice)
	assert.Equal(t, domain.TrendIncreasing, out.MarketTrend)
	assert.Equal(t, domain.PriceRange{Min: 20, Max: 60}, out.PriceRange)
	assert.Equal(t, "KES", out.Currency)
	assert.Equal(t, 0.85, out.ConfidenceScore)

	// equal to the mean is not increasing
	assert.Equal(t, domain.TrendDecreasing, PricePrediction(40, stats).MarketTrend)
	assert.Equal(t, domain.TrendDecreasing, PricePrediction(10, stats).MarketTrend)

	swapped := PricePrediction(1, domain.PriceStats{Min: 9, Max: 3})
	assert.Equal(t, domain.PriceRange{Min: 3, Max: 9}, swapped.PriceRange)

	empty := PricePrediction(0, domain.PriceStats{})
	assert.Equal(t, domain.TrendDecreasing, empty.MarketTrend)
	assert.Equal(t, domain.PriceRange{}, empty.PriceRange)
}

func TestYieldForecast(t *testing.T) {
	date := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	out := YieldForecast(12.5, date)
	assert.Equal(t, 12.5, out.ForecastedYield)
	assert.Equal(t, 0.85, out.ConfidenceScore)
	assert.Equal(t, date, out.ForecastDate)
	assert.Len(t, out.Recommendations, 2)

	out.Recommendations[0] = "changed"
	assert.Equal(t, "Consider rotating crops next season", YieldForecast(1, date).Recommendations[0])
}

func fruit() model.Image {
	img := model.NewImage(10, 10, 3)
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			v := float32(0.9)
			if y >= 2 && y < 8 && x >= 2 && x < 8 {
				v = 0.5
			}
			for c := 0; c < 3; c++ {
				img.Set(y, x, c, v)
			}
		}
	}
	return img
}

func TestProduceGrade(t *testing.T) {
	c := classification(domain.Grades, 0.1, 0.2, 0.4, 0.2, 0.1)
	out, err := ProduceGrade(c, fruit())
	require.NoError(t, err)
	assert.Equal(t, "C", out.QualityGrade)
	assert.Equal(t, 0.4, out.Confidence)
	assert.Empty(t, out.Defects)
	assert.NotNil(t, out.Defects)
	assert.InDelta(t, 0.36, out.QualityAttributes.Size, 1e-9)
	assert.InDelta(t, 1.0, out.QualityAttributes.Color, 1e-6)
	assert.Equal(t, 1.0, out.QualityAttributes.Shape)
}

func TestProduceGradeDefects(t *testing.T) {
	img := fruit()
	for y := 3; y < 6; y++ {
		for x := 3; x < 5; x++ {
			for c := 0; c < 3; c++ {
				img.Set(y, x, c, 0)
			}
		}
	}
	out, err := ProduceGrade(model.Classification{Index: 4, Probabilities: []float64{0, 0, 0, 0, 1}}, img)
	require.NoError(t, err)
	assert.Equal(t, "E", out.QualityGrade)
	assert.Contains(t, out.Defects, DefectDarkSpots)
	assert.Less(t, out.QualityAttributes.Shape, 1.0)
}

func TestProduceGradeOutOfRange(t *testing.T) {
	_, err := ProduceGrade(model.Classification{Index: 5, Probabilities: make([]float64, 6)}, fruit())
	assert.ErrorIs(t, err, ErrGradeIndex)

	_, err = ProduceGrade(model.Classification{Index: -1}, fruit())
	assert.ErrorIs(t, err, ErrGradeIndex)
}
