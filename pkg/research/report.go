// Package research orchestrates a market research run: cache lookup, data
// collection, metric derivation, LLM narrative generation, and persistence
// into the user's memory record.
package research

import (
	"time"

	"github.com/entrhq/compass/pkg/types"
)

// Metadata identifies the subject a cached report belongs to. The cache
// layer compares these fields against the caller's request before serving
// a hit.
type Metadata struct {
	Subject     string    `json:"subject"`
	Qualifier   string    `json:"qualifier"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Report is the full output of one research run. It is the payload stored
// in the result cache and dumped alongside the user's memory record.
type Report struct {
	Metadata         Metadata           `json:"metadata"`
	ExecutiveSummary string             `json:"executive_summary"`
	TotalCompetitors int                `json:"total_competitors"`
	AverageRating    float64            `json:"average_rating"`
	MarketSaturation string             `json:"market_saturation"`
	TrendMomentum    string             `json:"trend_momentum"`
	InvestmentRange  string             `json:"investment_range"`
	KeyOpportunities []string           `json:"key_opportunities"`
	Confidence       float64            `json:"confidence_score"`
	Places           []types.Place      `json:"places"`
	Trends           []types.TrendPoint `json:"trends"`

	// FromCache marks reports served from the result cache. Not persisted.
	FromCache bool `json:"-"`
}

// CityOpportunity scores one business type's potential in a city scan.
type CityOpportunity struct {
	BusinessType     string  `json:"business_type"`
	Competitors      int     `json:"competitors"`
	TrendMomentum    string  `json:"trend_momentum"`
	OpportunityScore float64 `json:"opportunity_score"`
}

// CityReport is the output of a city-wide opportunity scan.
type CityReport struct {
	Metadata      Metadata          `json:"metadata"`
	City          string            `json:"city"`
	Opportunities []CityOpportunity `json:"opportunities"`
	FromCache     bool              `json:"-"`
}
