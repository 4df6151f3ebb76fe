// Package scrape collects raw market data: competitor listings from a
// places search and search-interest series from a trends search. The
// SearchAPI client talks to the hosted service; the mock collector
// produces deterministic data for development and tests.
package scrape

import (
	"context"

	"github.com/entrhq/compass/pkg/types"
)

// Collector fetches market data for a business type in a location.
type Collector interface {
	// SearchPlaces returns up to limit competitor listings for the query
	// in the given location.
	SearchPlaces(ctx context.Context, query, location string, limit int) ([]types.Place, error)

	// SearchTrends returns the recent search-interest series for the
	// query in the given location, oldest point first.
	SearchTrends(ctx context.Context, query, location string) ([]types.TrendPoint, error)
}
