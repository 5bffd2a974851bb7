// Package ffc provides the national flood forecast from the Flood Forecasting
// Centre's daily flood guidance statement.
package ffc

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/MrWong99/floodwatch/pkg/provider/flood"
	"github.com/MrWong99/floodwatch/pkg/types"
)

// DefaultURL is the public statement endpoint.
const DefaultURL = "https://api.ffc-environment-agency.fgs.metoffice.gov.uk/api/public/statements"

// Fetcher retrieves and decodes a JSON document. *fetch.Client satisfies it.
type Fetcher interface {
	GetJSON(ctx context.Context, rawURL string, out any) error
}

// Client implements [flood.ForecastSource].
type Client struct {
	fetcher Fetcher
	url     string
}

// Compile-time interface assertion.
var _ flood.ForecastSource = (*Client)(nil)

// New creates a Client. An empty url selects [DefaultURL].
func New(f Fetcher, url string) *Client {
	if url == "" {
		url = DefaultURL
	}
	return &Client{fetcher: f, url: url}
}

type statementResponse struct {
	Statement struct {
		IssuedAt       string `json:"issued_at"`
		PublicForecast struct {
			EnglandForecast string `json:"england_forecast"`
		} `json:"public_forecast"`
		FloodRiskTrend map[string]any      `json:"flood_risk_trend"`
		Sources        []map[string]string `json:"sources"`
	} `json:"statement"`
}

// Forecast implements [flood.ForecastSource].
func (c *Client) Forecast(ctx context.Context) (types.FloodForecast, error) {
	var resp statementResponse
	if err := c.fetcher.GetJSON(ctx, c.url, &resp); err != nil {
		return types.FloodForecast{}, fmt.Errorf("ffc: statement: %w", err)
	}
	st := resp.Statement

	out := types.FloodForecast{
		Narrative: strings.TrimSpace(st.PublicForecast.EnglandForecast),
		Trend:     make(map[string]string, len(st.FloodRiskTrend)),
	}
	if t, err := time.Parse(time.RFC3339, st.IssuedAt); err == nil {
		out.IssuedAt = t
	}
	for day, v := range st.FloodRiskTrend {
		if s, ok := v.(string); ok && strings.HasPrefix(day, "day") {
			out.Trend[day] = s
		}
	}
	for _, src := range st.Sources {
		keys := make([]string, 0, len(src))
		for k := range src {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if summary := strings.TrimSpace(src[k]); summary != "" {
				out.Sources = append(out.Sources, types.ForecastSource{Source: k, Summary: summary})
			}
		}
	}
	return out, nil
}
