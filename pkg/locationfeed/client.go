// Package locationfeed polls an upstream JSON feed of tourist positions.
package locationfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"touristguard/internal/domain"
)

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

type apiResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error,omitempty"`
}

type apiRecord struct {
	TouristID string   `json:"touristId"`
	Lat       *float64 `json:"lat"`
	Lng       *float64 `json:"lng"`
	Time      string   `json:"time"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
}

// Fetch returns the records reported since the given time. A zero since asks
// the feed for everything it still holds.
func (c *Client) Fetch(ctx context.Context, since time.Time) ([]domain.Sample, error) {
	params := url.Values{}
	if c.apiKey != "" {
		params.Set("apikey", c.apiKey)
	}
	if !since.IsZero() {
		params.Set("since", since.UTC().Format(time.RFC3339))
	}

	reqURL := c.baseURL
	if len(params) > 0 {
		reqURL = fmt.Sprintf("%s?%s", c.baseURL, params.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	if apiResp.Error != "" {
		return nil, fmt.Errorf("API error: %s", apiResp.Error)
	}

	var records []apiRecord
	if err := json.Unmarshal(apiResp.Result, &records); err != nil {
		return nil, fmt.Errorf("decoding records: %w", err)
	}

	return toDomain(records), nil
}

// toDomain drops records without a tourist id, position or parseable time.
func toDomain(records []apiRecord) []domain.Sample {
	result := make([]domain.Sample, 0, len(records))

	for _, r := range records {
		if r.TouristID == "" || r.Lat == nil || r.Lng == nil {
			continue
		}

		ts, err := time.Parse(time.RFC3339Nano, r.Time)
		if err != nil {
			continue
		}

		result = append(result, domain.Sample{
			TouristID:      r.TouristID,
			Coordinate:     domain.Coordinate{Lat: *r.Lat, Lng: *r.Lng},
			Timestamp:      ts,
			AccuracyMeters: r.Accuracy,
		})
	}

	return result
}
