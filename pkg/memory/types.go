// Package memory persists per-user conversational and research context:
// conversation turns, research summaries, city opportunity snapshots, and
// scraped-data summaries. One JSON record file per user, atomically
// replaced on every mutation, human-diffable on disk.
package memory

import (
	"strings"
	"time"
)

const (
	// PendingResponse marks a conversation turn persisted before the
	// external LLM call resolved.
	PendingResponse = "(pending)"

	// UploadSentinel is the user_message value of a system-initiated turn
	// recording a dataset ingestion. It is excluded from assembled chat
	// context, though its assistant output may be surfaced as prior output.
	UploadSentinel = "__upload__"
)

// ConversationTurn is one user/assistant exchange. AssistantResponse holds
// PendingResponse between StartTurn and Resolve/Fail.
type ConversationTurn struct {
	ID                string    `json:"id"`
	UserMessage       string    `json:"user_message"`
	AssistantResponse string    `json:"assistant_response"`
	BusinessType      string    `json:"business_type,omitempty"`
	Location          string    `json:"location,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// Pending reports whether the turn is still awaiting its response.
func (t *ConversationTurn) Pending() bool {
	return t.AssistantResponse == PendingResponse
}

// ResearchRecord is the stored summary of one research run for a subject.
// Later runs for the same subject key fully replace the record.
type ResearchRecord struct {
	BusinessType     string    `json:"business_type"`
	Location         string    `json:"location"`
	Timestamp        time.Time `json:"timestamp"`
	ExecutiveSummary string    `json:"executive_summary"`
	TotalCompetitors int       `json:"total_competitors"`
	MarketSaturation string    `json:"market_saturation"`
	AverageRating    float64   `json:"average_rating"`
	InvestmentRange  string    `json:"investment_range"`
	KeyOpportunities []string  `json:"key_opportunities,omitempty"`
	Confidence       float64   `json:"confidence_score"`
}

// CityOpportunitySnapshot is the stored summary of a city-wide opportunity
// scan. Keyed by lowercased city name, last write wins.
type CityOpportunitySnapshot struct {
	City               string    `json:"city"`
	Timestamp          time.Time `json:"timestamp"`
	TotalOpportunities int       `json:"total_opportunities"`
	TopRecommendations []string  `json:"top_recommendations,omitempty"`
	MarketTrends       []string  `json:"market_trends,omitempty"`
}

// ScrapedDataSummary summarizes one scraping pass for a subject.
type ScrapedDataSummary struct {
	BusinessType     string    `json:"business_type"`
	Location         string    `json:"location"`
	Timestamp        time.Time `json:"timestamp"`
	TotalBusinesses  int       `json:"total_businesses"`
	AverageRating    float64   `json:"average_rating"`
	DataFreshness    string    `json:"data_freshness"`
	TotalTrendPoints int       `json:"total_trend_points"`
	InterestTrend    string    `json:"interest_trend"`
}

// Record is the aggregate root persisted per user id.
type Record struct {
	UserID              string                             `json:"user_id"`
	ConversationHistory []ConversationTurn                 `json:"conversation_history"`
	ResearchData        map[string]ResearchRecord          `json:"research_data"`
	CityOpportunities   map[string]CityOpportunitySnapshot `json:"city_opportunities"`
	ScrapedData         map[string]ScrapedDataSummary      `json:"scraped_data"`
	DatasetPath         string                             `json:"dataset_path,omitempty"`
	CreatedAt           time.Time                          `json:"created_at"`
	UpdatedAt           time.Time                          `json:"updated_at"`
}

// newRecord initializes an empty record for a user.
func newRecord(userID string) *Record {
	now := timeNow()
	return &Record{
		UserID:              userID,
		ConversationHistory: []ConversationTurn{},
		ResearchData:        map[string]ResearchRecord{},
		CityOpportunities:   map[string]CityOpportunitySnapshot{},
		ScrapedData:         map[string]ScrapedDataSummary{},
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// normalize backfills nil maps and slices on records decoded from older
// files so callers never index into nil.
func (r *Record) normalize() {
	if r.ConversationHistory == nil {
		r.ConversationHistory = []ConversationTurn{}
	}
	if r.ResearchData == nil {
		r.ResearchData = map[string]ResearchRecord{}
	}
	if r.CityOpportunities == nil {
		r.CityOpportunities = map[string]CityOpportunitySnapshot{}
	}
	if r.ScrapedData == nil {
		r.ScrapedData = map[string]ScrapedDataSummary{}
	}
}

// SubjectKey derives the normalized map key for a business type and
// location, e.g. ("Coffee Shop", "Pune, MH") -> "coffee_shop_pune_mh".
func SubjectKey(businessType, location string) string {
	return normalizePart(businessType) + "_" + normalizePart(location)
}

func normalizePart(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, ",", "")
	return strings.Join(strings.Fields(s), "_")
}
