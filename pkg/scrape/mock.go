package scrape

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strings"
	"time"

	"github.com/entrhq/compass/pkg/types"
)

// timeNow is stubbed in tests.
var timeNow = time.Now

// trendWeeks is the length of the generated interest series.
const trendWeeks = 12

// cityCoords anchors generated listings to plausible coordinates.
var cityCoords = map[string][2]float64{
	"mumbai":    {19.0760, 72.8777},
	"delhi":     {28.7041, 77.1025},
	"bangalore": {12.9716, 77.5946},
	"pune":      {18.5204, 73.8567},
	"hyderabad": {17.3850, 78.4867},
	"chennai":   {13.0827, 80.2707},
	"kolkata":   {22.5726, 88.3639},
	"ahmedabad": {23.0225, 72.5714},
}

var defaultCoords = [2]float64{20.5937, 78.9629}

var namePrefixes = []string{
	"Royal", "Golden", "Urban", "Classic", "Prime",
	"Sunrise", "Metro", "Elite", "Green Leaf", "Blue Lotus",
}

var streetNames = []string{
	"MG Road", "FC Road", "Station Road", "Market Street", "Ring Road",
	"Hill View Lane", "Lake Side Drive", "Temple Street",
}

// MockCollector generates deterministic market data without touching the
// network. The same query and location always produce the same listings
// and the same trend values, so research runs are reproducible in
// development and tests.
type MockCollector struct{}

// NewMockCollector returns the deterministic collector.
func NewMockCollector() *MockCollector { return &MockCollector{} }

func seedFor(parts ...string) int64 {
	h := fnv.New64a()
	for _, p := range parts {
		_, _ = h.Write([]byte(strings.ToLower(strings.TrimSpace(p))))
		_, _ = h.Write([]byte{0})
	}
	return int64(h.Sum64())
}

// SearchPlaces generates 8 to 25 listings seeded by the query and
// location.
func (m *MockCollector) SearchPlaces(_ context.Context, query, location string, limit int) ([]types.Place, error) {
	rng := rand.New(rand.NewSource(seedFor("places", query, location)))

	count := 8 + rng.Intn(18)
	if limit > 0 && count > limit {
		count = limit
	}

	coords, ok := cityCoords[strings.ToLower(strings.TrimSpace(location))]
	if !ok {
		coords = defaultCoords
	}

	places := make([]types.Place, 0, count)
	for i := 0; i < count; i++ {
		prefix := namePrefixes[rng.Intn(len(namePrefixes))]
		street := streetNames[rng.Intn(len(streetNames))]
		places = append(places, types.Place{
			Name:        fmt.Sprintf("%s %s", prefix, titleCase(query)),
			Address:     fmt.Sprintf("%d %s, %s", 1+rng.Intn(200), street, location),
			Rating:      round1(3.5 + rng.Float64()*1.3),
			ReviewCount: 10 + rng.Intn(490),
			PriceLevel:  1 + rng.Intn(3),
			Latitude:    round4(coords[0] + (rng.Float64()-0.5)*0.1),
			Longitude:   round4(coords[1] + (rng.Float64()-0.5)*0.1),
		})
	}
	return places, nil
}

// SearchTrends generates a 12 point weekly interest series seeded by the
// query and location. Values random-walk around a seeded baseline; dates
// are the preceding 12 weeks.
func (m *MockCollector) SearchTrends(_ context.Context, query, location string) ([]types.TrendPoint, error) {
	rng := rand.New(rand.NewSource(seedFor("trends", query, location)))

	value := 35 + rng.Intn(40)
	end := timeNow().Truncate(24 * time.Hour)

	points := make([]types.TrendPoint, 0, trendWeeks)
	for i := trendWeeks - 1; i >= 0; i-- {
		value += rng.Intn(17) - 8
		if value < 5 {
			value = 5
		}
		if value > 100 {
			value = 100
		}
		points = append(points, types.TrendPoint{
			Date:  end.AddDate(0, 0, -7*i).Format("2006-01-02"),
			Value: value,
			Query: query,
		})
	}
	return points, nil
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func round1(f float64) float64 { return float64(int(f*10+0.5)) / 10 }
func round4(f float64) float64 { return float64(int(f*10000+0.5)) / 10000 }
