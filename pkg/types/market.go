package types

// Place is a single competitor listing returned by a places search.
type Place struct {
	Name        string  `json:"name"`
	Address     string  `json:"address"`
	Rating      float64 `json:"rating"`
	ReviewCount int     `json:"review_count"`
	PriceLevel  int     `json:"price_level"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
}

// TrendPoint is a single search-interest data point from a trends search.
type TrendPoint struct {
	Date  string `json:"date"` // YYYY-MM-DD
	Value int    `json:"value"`
	Query string `json:"query,omitempty"`
}
