package domain

import (
	"time"

	"sokoyetu-ai/internal/model"
)

// PriceRequest asks for a suggested market price.
type PriceRequest struct {
	CategoryID  int64   `json:"category_id"`
	ProductID   int64   `json:"product_id,omitempty"`
	ProductName string  `json:"product_name,omitempty"`
	Quantity    float64 `json:"quantity"`
	Unit        string  `json:"unit"`
	CountryID   int64   `json:"country_id"`
	CountyID    int64   `json:"county_id,omitempty"`
	SubCountyID int64   `json:"sub_county_id,omitempty"`
	Season      string  `json:"season,omitempty"`
}

// YieldRequest asks for a yield forecast for a farmer's crop.
type YieldRequest struct {
	UserID       int64     `json:"user_id"`
	CategoryID   int64     `json:"category_id"`
	ProductID    int64     `json:"product_id,omitempty"`
	CountryID    int64     `json:"country_id"`
	CountyID     int64     `json:"county_id,omitempty"`
	ForecastDate time.Time `json:"forecast_date"`
}

// CropAnalysisRequest carries a crop photo to be assessed.
type CropAnalysisRequest struct {
	ImageURL      string      `json:"image_url"`
	CategoryID    int64       `json:"category_id"`
	Name          string      `json:"name,omitempty"`
	CountryID     int64       `json:"country_id"`
	CountyID      int64       `json:"county_id,omitempty"`
	ExpectedTypes []string    `json:"expected_types,omitempty"`
	Image         model.Image `json:"image"`
}

// GradingRequest carries a produce photo to be graded.
type GradingRequest struct {
	ImageURL    string      `json:"image_url"`
	CategoryID  int64       `json:"category_id"`
	ProductID   int64       `json:"product_id,omitempty"`
	ProductName string      `json:"product_name,omitempty"`
	CountryID   int64       `json:"country_id"`
	CountyID    int64       `json:"county_id,omitempty"`
	Image       model.Image `json:"image"`
}
