// Package rivers implements the get-river-levels tool: the latest gauge
// readings around a point.
package rivers

import (
	"cmp"
	"context"
	"log/slog"
	"slices"

	"github.com/MrWong99/floodwatch/internal/budget"
	"github.com/MrWong99/floodwatch/internal/tools"
	"github.com/MrWong99/floodwatch/pkg/provider/flood"
	"github.com/MrWong99/floodwatch/pkg/types"
)

// Tool is the get-river-levels tool.
type Tool struct {
	source   flood.RiverSource
	upstream tools.Upstream
	defaults tools.Location
}

var _ tools.Tool = (*Tool)(nil)

// New returns the tool. defaults is the search area used for arguments the
// model leaves out.
func New(source flood.RiverSource, upstream tools.Upstream, defaults tools.Location) *Tool {
	if upstream.Logger == nil {
		upstream.Logger = slog.Default()
	}
	return &Tool{source: source, upstream: upstream, defaults: defaults}
}

// Name implements [tools.Tool].
func (t *Tool) Name() string { return tools.NameRiverLevels }

// Definition implements [tools.Tool].
func (t *Tool) Definition() tools.Definition {
	return tools.Definition{
		Name: tools.NameRiverLevels,
		Description: "Get the latest river levels at gauging stations around a point, " +
			"classified against each station's typical range, with the current trend.",
		Parameters: tools.LocationSchema("river gauges"),
	}
}

// Execute fetches readings. Any upstream failure yields an empty list.
func (t *Tool) Execute(ctx context.Context, args tools.Args, tc *tools.Context) tools.Result {
	loc := tools.ResolveLocation(args, tc, t.defaults)
	res := tools.Call(ctx, t.upstream, func(ctx context.Context) ([]types.RiverReading, error) {
		return t.source.Readings(ctx, loc.Area())
	})
	readings := res.Value
	if readings == nil {
		readings = []types.RiverReading{}
	}
	t.upstream.Logger.Info("river levels fetched",
		"provider", t.upstream.Name(),
		"lat", loc.Latitude,
		"lon", loc.Longitude,
		"radius_km", loc.RadiusKm,
		"count", len(readings),
		"status", res.Status.String(),
	)
	if !res.OK() {
		return tools.Partial(readings)
	}
	return tools.OK(readings)
}

type readingView struct {
	Station string  `json:"station"`
	River   string  `json:"river,omitempty"`
	Town    string  `json:"town,omitempty"`
	Level   float64 `json:"level"`
	Unit    string  `json:"unit,omitempty"`
	Status  string  `json:"status"`
	Trend   string  `json:"trend"`
}

type presentation struct {
	Total    int           `json:"total"`
	Elevated int           `json:"elevated"`
	Readings []readingView `json:"readings"`
}

// statusRank orders readings so elevated stations survive the cap.
func statusRank(status string) int {
	switch status {
	case types.RiverElevated:
		return 0
	case types.RiverExpected:
		return 1
	case types.RiverLow:
		return 2
	default:
		return 3
	}
}

// PresentForLLM puts elevated stations first, then caps the list.
func (t *Tool) PresentForLLM(r tools.Result, b *budget.Budget) any {
	all, _ := r.Data.([]types.RiverReading)
	sorted := slices.Clone(all)
	slices.SortStableFunc(sorted, func(a, b types.RiverReading) int {
		return cmp.Compare(statusRank(a.Status), statusRank(b.Status))
	})

	elevated := 0
	for _, rd := range all {
		if rd.Status == types.RiverElevated {
			elevated++
		}
	}
	capped := budget.CapList(sorted, b.Limits.MaxRivers)
	out := presentation{Total: len(all), Elevated: elevated, Readings: make([]readingView, 0, len(capped))}
	for _, rd := range capped {
		out.Readings = append(out.Readings, readingView{
			Station: rd.Station,
			River:   rd.River,
			Town:    rd.Town,
			Level:   rd.Level,
			Unit:    rd.Unit,
			Status:  rd.Status,
			Trend:   rd.Trend,
		})
	}
	return out
}
