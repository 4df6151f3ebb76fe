package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSearchPlacesParsesLocalResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("engine"); got != "google_maps" {
			t.Errorf("engine = %q, want google_maps", got)
		}
		if got := r.URL.Query().Get("api_key"); got != "test-key" {
			t.Errorf("api_key = %q", got)
		}
		if got := r.URL.Query().Get("q"); got != "bakery in pune" {
			t.Errorf("q = %q", got)
		}
		_, _ = w.Write([]byte(`{
			"local_results": [
				{"title": "Royal Bakery", "address": "12 FC Road, Pune", "rating": 4.3,
				 "reviews": 210, "price_level": "$$",
				 "gps_coordinates": {"latitude": 18.52, "longitude": 73.85}},
				{"title": "Golden Crust", "address": "4 MG Road, Pune", "rating": 4.0,
				 "reviews": 95, "price_level": "$",
				 "gps_coordinates": {"latitude": 18.53, "longitude": 73.86}}
			]
		}`))
	}))
	defer srv.Close()

	c, err := NewSearchAPIClient("test-key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewSearchAPIClient failed: %v", err)
	}

	places, err := c.SearchPlaces(context.Background(), "bakery", "pune", 0)
	if err != nil {
		t.Fatalf("SearchPlaces failed: %v", err)
	}
	if len(places) != 2 {
		t.Fatalf("len = %d, want 2", len(places))
	}
	if places[0].Name != "Royal Bakery" || places[0].Rating != 4.3 {
		t.Errorf("first place = %+v", places[0])
	}
	if places[0].PriceLevel != 2 {
		t.Errorf("price level = %d, want 2", places[0].PriceLevel)
	}
}

func TestSearchPlacesLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"local_results": [
			{"title": "A"}, {"title": "B"}, {"title": "C"}
		]}`))
	}))
	defer srv.Close()

	c, _ := NewSearchAPIClient("test-key", WithBaseURL(srv.URL))
	places, err := c.SearchPlaces(context.Background(), "bakery", "pune", 2)
	if err != nil {
		t.Fatalf("SearchPlaces failed: %v", err)
	}
	if len(places) != 2 {
		t.Errorf("len = %d, want 2", len(places))
	}
}

func TestSearchTrendsParsesTimeline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("engine"); got != "google_trends" {
			t.Errorf("engine = %q, want google_trends", got)
		}
		_, _ = w.Write([]byte(`{
			"interest_over_time": {
				"timeline_data": [
					{"date": "2025-05-18", "values": [{"value": "42"}]},
					{"date": "2025-05-25", "values": [{"value": "not a number"}]},
					{"date": "2025-06-01", "values": [{"value": "57"}]}
				]
			}
		}`))
	}))
	defer srv.Close()

	c, _ := NewSearchAPIClient("test-key", WithBaseURL(srv.URL))
	points, err := c.SearchTrends(context.Background(), "bakery", "IN")
	if err != nil {
		t.Fatalf("SearchTrends failed: %v", err)
	}
	// The malformed middle value is skipped, not fatal.
	if len(points) != 2 {
		t.Fatalf("len = %d, want 2", len(points))
	}
	if points[0].Value != 42 || points[1].Value != 57 {
		t.Errorf("points = %+v", points)
	}
}

func TestSearchAPIErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, _ := NewSearchAPIClient("bad-key", WithBaseURL(srv.URL))
	if _, err := c.SearchPlaces(context.Background(), "bakery", "pune", 0); err == nil {
		t.Error("expected an error for a 401 response")
	}
}

func TestNewSearchAPIClientRequiresKey(t *testing.T) {
	if _, err := NewSearchAPIClient(""); err == nil {
		t.Error("expected an error for an empty key")
	}
}
