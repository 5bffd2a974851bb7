// Package ea provides flood warning and river level sources backed by the
// Environment Agency real-time flood-monitoring API.
//
// See https://environment.data.gov.uk/flood-monitoring/doc/reference.
package ea

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/floodwatch/pkg/provider/flood"
	"github.com/MrWong99/floodwatch/pkg/types"
)

// DefaultBaseURL is the public flood-monitoring API root.
const DefaultBaseURL = "https://environment.data.gov.uk/flood-monitoring"

// steadyDelta is the level change in metres below which a river is steady.
const steadyDelta = 0.01

// Fetcher retrieves and decodes a JSON document. *fetch.Client satisfies it.
type Fetcher interface {
	GetJSON(ctx context.Context, rawURL string, out any) error
}

// Client talks to the flood-monitoring API. It implements both
// [flood.WarningSource] and [flood.RiverSource].
type Client struct {
	fetcher    Fetcher
	baseURL    string
	trendLimit int
	logger     *slog.Logger
}

// Compile-time interface assertions.
var (
	_ flood.WarningSource = (*Client)(nil)
	_ flood.RiverSource   = (*Client)(nil)
)

// Option configures a [Client].
type Option func(*Client)

// WithBaseURL overrides [DefaultBaseURL]. Empty values are ignored.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithTrendConcurrency bounds the number of concurrent reading lookups used
// to compute river trends. Default: 4.
func WithTrendConcurrency(n int) Option {
	return func(c *Client) { c.trendLimit = n }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client that fetches through f.
func New(f Fetcher, opts ...Option) *Client {
	c := &Client{
		fetcher:    f,
		baseURL:    DefaultBaseURL,
		trendLimit: 4,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.trendLimit <= 0 {
		c.trendLimit = 1
	}
	return c
}

// ── wire types ───────────────────────────────────────────────────────────────

// oneOrMany decodes a JSON value that is either a single object or an array.
type oneOrMany[T any] []T

func (o *oneOrMany[T]) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var many []T
		if err := json.Unmarshal(data, &many); err != nil {
			return err
		}
		*o = many
		return nil
	}
	if trimmed == "null" {
		*o = nil
		return nil
	}
	var one T
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	*o = []T{one}
	return nil
}

// number decodes a float that may arrive as a JSON number, a string or a
// one-element array (the API does all three for reading values).
type number struct {
	Value float64
	Valid bool
}

func (n *number) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*n = number{Value: f, Valid: true}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			*n = number{Value: f, Valid: true}
		}
		return nil
	}
	var arr []float64
	if err := json.Unmarshal(data, &arr); err == nil && len(arr) > 0 {
		*n = number{Value: arr[0], Valid: true}
	}
	return nil
}

type floodArea struct {
	County   string `json:"county"`
	Notation string `json:"notation"`
	Polygon  string `json:"polygon"`
}

type floodItem struct {
	ID                  string    `json:"@id"`
	Description         string    `json:"description"`
	FloodAreaID         string    `json:"floodAreaID"`
	FloodArea           floodArea `json:"floodArea"`
	Message             string    `json:"message"`
	Severity            string    `json:"severity"`
	SeverityLevel       int       `json:"severityLevel"`
	TimeRaised          string    `json:"timeRaised"`
	TimeMessageChanged  string    `json:"timeMessageChanged"`
	TimeSeverityChanged string    `json:"timeSeverityChanged"`
}

type reading struct {
	DateTime string `json:"dateTime"`
	Value    number `json:"value"`
}

type measure struct {
	ID            string   `json:"@id"`
	Parameter     string   `json:"parameter"`
	UnitName      string   `json:"unitName"`
	LatestReading *reading `json:"latestReading"`
}

type stageScale struct {
	TypicalRangeHigh number `json:"typicalRangeHigh"`
	TypicalRangeLow  number `json:"typicalRangeLow"`
}

type stationItem struct {
	ID               string             `json:"@id"`
	Label            string             `json:"label"`
	RiverName        string             `json:"riverName"`
	Town             string             `json:"town"`
	StationReference string             `json:"stationReference"`
	Lat              number             `json:"lat"`
	Long             number             `json:"long"`
	Measures         oneOrMany[measure] `json:"measures"`
	StageScale       json.RawMessage    `json:"stageScale"`
}

type listResponse[T any] struct {
	Items []T `json:"items"`
}

// ── flood warnings ───────────────────────────────────────────────────────────

// Warnings implements [flood.WarningSource].
func (c *Client) Warnings(ctx context.Context, area flood.Area) ([]types.FloodWarning, error) {
	q := url.Values{}
	q.Set("lat", formatCoord(area.Latitude))
	q.Set("long", formatCoord(area.Longitude))
	q.Set("dist", formatCoord(area.RadiusKm))

	var resp listResponse[floodItem]
	if err := c.fetcher.GetJSON(ctx, c.baseURL+"/id/floods?"+q.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("ea: floods: %w", err)
	}

	out := make([]types.FloodWarning, 0, len(resp.Items))
	for _, it := range resp.Items {
		sev := types.SeverityFromLevel(it.SeverityLevel)
		changed := parseTime(it.TimeMessageChanged)
		if t := parseTime(it.TimeSeverityChanged); t.After(changed) {
			changed = t
		}
		areaID := it.FloodAreaID
		if areaID == "" {
			areaID = it.FloodArea.Notation
		}
		out = append(out, types.FloodWarning{
			ID:          it.ID,
			Description: it.Description,
			AreaID:      areaID,
			County:      it.FloodArea.County,
			Severity:    sev.String(),
			Level:       int(sev),
			Message:     strings.TrimSpace(it.Message),
			Raised:      parseTime(it.TimeRaised),
			Changed:     changed,
			Geometry:    it.FloodArea.Polygon,
		})
	}
	return out, nil
}

// ── river levels ─────────────────────────────────────────────────────────────

// Readings implements [flood.RiverSource]. Trends are derived from the two
// most recent readings of each station's level measure; a failed trend lookup
// leaves that station's trend unknown rather than failing the whole call.
func (c *Client) Readings(ctx context.Context, area flood.Area) ([]types.RiverReading, error) {
	q := url.Values{}
	q.Set("parameter", "level")
	q.Set("lat", formatCoord(area.Latitude))
	q.Set("long", formatCoord(area.Longitude))
	q.Set("dist", formatCoord(area.RadiusKm))
	q.Set("_view", "full")

	var resp listResponse[stationItem]
	if err := c.fetcher.GetJSON(ctx, c.baseURL+"/id/stations?"+q.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("ea: stations: %w", err)
	}

	out := make([]types.RiverReading, 0, len(resp.Items))
	measureIDs := make([]string, 0, len(resp.Items))
	for _, st := range resp.Items {
		m, ok := levelMeasure(st.Measures)
		if !ok {
			continue
		}
		r := types.RiverReading{
			StationID: st.StationReference,
			Station:   st.Label,
			River:     st.RiverName,
			Town:      st.Town,
			Unit:      m.UnitName,
			Status:    types.RiverUnknown,
			Trend:     types.TrendUnknown,
			Latitude:  st.Lat.Value,
			Longitude: st.Long.Value,
		}
		if m.LatestReading != nil && m.LatestReading.Value.Valid {
			r.Level = m.LatestReading.Value.Value
			r.Observed = parseTime(m.LatestReading.DateTime)
			r.Status = classify(r.Level, decodeStageScale(st.StageScale))
		}
		out = append(out, r)
		measureIDs = append(measureIDs, m.ID)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.trendLimit)
	for i := range out {
		if measureIDs[i] == "" {
			continue
		}
		g.Go(func() error {
			trend, err := c.trend(gctx, measureIDs[i])
			if err != nil {
				c.logger.Debug("ea: trend lookup failed",
					"station", out[i].StationID, "err", err)
				return nil
			}
			out[i].Trend = trend
			return nil
		})
	}
	_ = g.Wait()

	return out, nil
}

func (c *Client) trend(ctx context.Context, measureID string) (string, error) {
	u := measureID
	if !strings.HasPrefix(u, "http") {
		u = c.baseURL + "/id/measures/" + url.PathEscape(u)
	}
	var resp listResponse[reading]
	if err := c.fetcher.GetJSON(ctx, u+"/readings?_sorted&_limit=2", &resp); err != nil {
		return types.TrendUnknown, err
	}
	return trendOf(resp.Items), nil
}

// trendOf compares the newest reading (first, as returned with _sorted) to
// the one before it.
func trendOf(items []reading) string {
	if len(items) < 2 || !items[0].Value.Valid || !items[1].Value.Valid {
		return types.TrendUnknown
	}
	diff := items[0].Value.Value - items[1].Value.Value
	switch {
	case math.Abs(diff) < steadyDelta:
		return types.TrendSteady
	case diff > 0:
		return types.TrendRising
	default:
		return types.TrendFalling
	}
}

func levelMeasure(ms []measure) (measure, bool) {
	for _, m := range ms {
		if m.Parameter == "" || m.Parameter == "level" {
			return m, true
		}
	}
	return measure{}, false
}

// decodeStageScale accepts the embedded object returned by _view=full and
// ignores the bare URL form.
func decodeStageScale(raw json.RawMessage) *stageScale {
	if len(raw) == 0 || raw[0] != '{' {
		return nil
	}
	var s stageScale
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	return &s
}

// classify places level relative to the station's typical range.
func classify(level float64, s *stageScale) string {
	if s == nil || !s.TypicalRangeHigh.Valid || !s.TypicalRangeLow.Valid {
		return types.RiverUnknown
	}
	switch {
	case level > s.TypicalRangeHigh.Value:
		return types.RiverElevated
	case level < s.TypicalRangeLow.Value:
		return types.RiverLow
	default:
		return types.RiverExpected
	}
}

func formatCoord(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// parseTime accepts RFC 3339 and the zone-less form the API sometimes emits
// (interpreted as UTC).
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}
