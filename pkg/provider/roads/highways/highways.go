// Package highways provides road incidents from the National Highways
// incident feed, served as JSON by the traffic gateway.
package highways

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/floodwatch/pkg/provider/roads"
	"github.com/MrWong99/floodwatch/pkg/types"
)

// Fetcher retrieves and decodes a JSON document. *fetch.Client satisfies it.
type Fetcher interface {
	GetJSON(ctx context.Context, rawURL string, out any) error
}

// Client implements [roads.IncidentSource].
type Client struct {
	fetcher Fetcher
	baseURL string
}

var _ roads.IncidentSource = (*Client)(nil)

// New creates a Client for the gateway at baseURL.
func New(f Fetcher, baseURL string) *Client {
	return &Client{fetcher: f, baseURL: strings.TrimRight(baseURL, "/")}
}

type incident struct {
	ID          string `json:"id"`
	Road        string `json:"road"`
	Direction   string `json:"direction"`
	Location    string `json:"location"`
	Status      string `json:"status"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Delay       string `json:"delay"`
	Updated     string `json:"updated"`
}

type incidentsResponse struct {
	Incidents []incident `json:"incidents"`
}

// Incidents implements [roads.IncidentSource]. Filtering by region happens
// upstream.
func (c *Client) Incidents(ctx context.Context, region string) ([]types.RoadIncident, error) {
	u := c.baseURL + "/incidents"
	if region != "" {
		u += "?" + url.Values{"region": {region}}.Encode()
	}

	var resp incidentsResponse
	if err := c.fetcher.GetJSON(ctx, u, &resp); err != nil {
		return nil, fmt.Errorf("highways: incidents: %w", err)
	}

	out := make([]types.RoadIncident, 0, len(resp.Incidents))
	for _, in := range resp.Incidents {
		updated, _ := time.Parse(time.RFC3339, in.Updated)
		out = append(out, types.RoadIncident{
			ID:           in.ID,
			Road:         strings.ToUpper(strings.TrimSpace(in.Road)),
			Direction:    in.Direction,
			Location:     in.Location,
			Status:       in.Status,
			Type:         in.Type,
			Description:  strings.TrimSpace(in.Description),
			Delay:        in.Delay,
			FloodRelated: roads.IsFloodRelated(in.Type, in.Description),
			Updated:      updated,
		})
	}
	return out, nil
}
