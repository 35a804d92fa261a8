package domain

import "time"

// PriceRange is the historical price band around a prediction.
type PriceRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// PricePrediction is the price vertical's result.
type PricePrediction struct {
	PredictedPrice  float64    `json:"predicted_price"`
	Currency        string     `json:"currency"`
	PriceRange      PriceRange `json:"price_range"`
	MarketTrend     string     `json:"market_trend"`
	ConfidenceScore float64    `json:"confidence_score"`
	PredictionDate  time.Time  `json:"prediction_date"`
}

// Market trends
const (
	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
)

// YieldForecast is the yield vertical's result.
type YieldForecast struct {
	ForecastedYield float64   `json:"forecasted_yield"`
	ConfidenceScore float64   `json:"confidence_score"`
	ForecastDate    time.Time `json:"forecast_date"`
	Recommendations []string  `json:"recommendations"`
}

// CropAnalysis is the crop vertical's result.
type CropAnalysis struct {
	HealthScore      float64   `json:"health_score"`
	Condition        string    `json:"condition"`
	PestDetected     bool      `json:"pest_detected"`
	DiseaseDetected  bool      `json:"disease_detected"`
	Confidence       float64   `json:"confidence"`
	CropType         string    `json:"crop_type"`
	CropTypeExpected bool      `json:"crop_type_expected"`
	Recommendations  []string  `json:"recommendations"`
	AnalysisDate     time.Time `json:"analysis_date"`
}

// QualityAttributes are image-derived scores in [0,1].
type QualityAttributes struct {
	Size  float64 `json:"size"`
	Color float64 `json:"color"`
	Shape float64 `json:"shape"`
}

// ProduceGrade is the grading vertical's result.
type ProduceGrade struct {
	QualityGrade      string            `json:"quality_grade"`
	Confidence        float64           `json:"confidence"`
	Defects           []string          `json:"defects"`
	QualityAttributes QualityAttributes `json:"quality_attributes"`
	GradingDate       time.Time         `json:"grading_date"`
}
