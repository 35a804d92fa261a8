package domain

import "time"

// PriceStats summarises the recent price observations for a market.
// All fields are zero when there is no history.
type PriceStats struct {
	Mean       float64   `json:"mean"`
	Min        float64   `json:"min"`
	Max        float64   `json:"max"`
	Count      int       `json:"count"`
	Latest     float64   `json:"latest"`
	LatestDate time.Time `json:"latest_date,omitzero"`
}

// PriceContext is the collaborator-supplied context of a price prediction.
type PriceContext struct {
	Stats  PriceStats
	Period time.Time
}

// YieldContext is the collaborator-supplied context of a yield forecast.
type YieldContext struct {
	TrailingAverage float64
	HasHistory      bool
}
