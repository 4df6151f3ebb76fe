package scrape

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/entrhq/compass/pkg/types"
)

// DefaultBaseURL is the SearchAPI search endpoint.
const DefaultBaseURL = "https://www.searchapi.io/api/v1/search"

// SearchAPIClient implements Collector against the hosted SearchAPI
// service, using the google_maps engine for places and the google_trends
// engine for interest series.
type SearchAPIClient struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
}

// SearchAPIOption configures a SearchAPIClient.
type SearchAPIOption func(*SearchAPIClient)

// WithHTTPClient substitutes the HTTP client, mainly for tests.
func WithHTTPClient(client *http.Client) SearchAPIOption {
	return func(c *SearchAPIClient) { c.httpClient = client }
}

// WithBaseURL points the client at a non-default endpoint.
func WithBaseURL(baseURL string) SearchAPIOption {
	return func(c *SearchAPIClient) { c.baseURL = baseURL }
}

// NewSearchAPIClient creates a client authenticated with apiKey.
func NewSearchAPIClient(apiKey string, opts ...SearchAPIOption) (*SearchAPIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("scrape: SearchAPI key is required")
	}
	c := &SearchAPIClient{
		httpClient: &http.Client{},
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *SearchAPIClient) get(ctx context.Context, params url.Values, out any) error {
	params.Set("api_key", c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("scrape: create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("scrape: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("scrape: SearchAPI returned status %d: %s", resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("scrape: decode response: %w", err)
	}
	return nil
}

// SearchPlaces queries the google_maps engine for competitor listings.
func (c *SearchAPIClient) SearchPlaces(ctx context.Context, query, location string, limit int) ([]types.Place, error) {
	params := url.Values{}
	params.Set("engine", "google_maps")
	params.Set("q", query+" in "+location)

	var out struct {
		LocalResults []struct {
			Title      string  `json:"title"`
			Address    string  `json:"address"`
			Rating     float64 `json:"rating"`
			Reviews    int     `json:"reviews"`
			PriceLevel string  `json:"price_level"`
			GPS        struct {
				Latitude  float64 `json:"latitude"`
				Longitude float64 `json:"longitude"`
			} `json:"gps_coordinates"`
		} `json:"local_results"`
	}
	if err := c.get(ctx, params, &out); err != nil {
		return nil, err
	}

	places := make([]types.Place, 0, len(out.LocalResults))
	for _, r := range out.LocalResults {
		if limit > 0 && len(places) >= limit {
			break
		}
		places = append(places, types.Place{
			Name:        r.Title,
			Address:     r.Address,
			Rating:      r.Rating,
			ReviewCount: r.Reviews,
			PriceLevel:  len(r.PriceLevel), // "$$" style markers
			Latitude:    r.GPS.Latitude,
			Longitude:   r.GPS.Longitude,
		})
	}
	return places, nil
}

// SearchTrends queries the google_trends engine for the interest series.
func (c *SearchAPIClient) SearchTrends(ctx context.Context, query, location string) ([]types.TrendPoint, error) {
	params := url.Values{}
	params.Set("engine", "google_trends")
	params.Set("q", query)
	params.Set("data_type", "TIMESERIES")
	if location != "" {
		params.Set("geo", location)
	}

	var out struct {
		InterestOverTime struct {
			TimelineData []struct {
				Date   string `json:"date"`
				Values []struct {
					Value string `json:"value"`
				} `json:"values"`
			} `json:"timeline_data"`
		} `json:"interest_over_time"`
	}
	if err := c.get(ctx, params, &out); err != nil {
		return nil, err
	}

	points := make([]types.TrendPoint, 0, len(out.InterestOverTime.TimelineData))
	for _, d := range out.InterestOverTime.TimelineData {
		if len(d.Values) == 0 {
			continue
		}
		v, err := strconv.Atoi(d.Values[0].Value)
		if err != nil {
			continue
		}
		points = append(points, types.TrendPoint{Date: d.Date, Value: v, Query: query})
	}
	return points, nil
}
