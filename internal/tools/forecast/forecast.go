// Package forecast implements the get-flood-forecast tool: the national
// five-day flood guidance statement.
package forecast

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrWong99/floodwatch/internal/budget"
	"github.com/MrWong99/floodwatch/internal/tools"
	"github.com/MrWong99/floodwatch/pkg/provider/flood"
	"github.com/MrWong99/floodwatch/pkg/types"
)

// Tool is the get-flood-forecast tool.
type Tool struct {
	source   flood.ForecastSource
	upstream tools.Upstream
}

var _ tools.Tool = (*Tool)(nil)

// New returns the tool.
func New(source flood.ForecastSource, upstream tools.Upstream) *Tool {
	if upstream.Logger == nil {
		upstream.Logger = slog.Default()
	}
	return &Tool{source: source, upstream: upstream}
}

// Name implements [tools.Tool].
func (t *Tool) Name() string { return tools.NameFloodForecast }

// Definition implements [tools.Tool].
func (t *Tool) Definition() tools.Definition {
	return tools.Definition{
		Name: tools.NameFloodForecast,
		Description: "Get the Flood Forecasting Centre guidance for England: a narrative " +
			"forecast, the flood risk trend for the next five days and per-source summaries.",
		Parameters: tools.EmptySchema(),
	}
}

// Execute fetches the forecast. Failures yield a zero forecast.
func (t *Tool) Execute(ctx context.Context, _ tools.Args, _ *tools.Context) tools.Result {
	res := tools.Call(ctx, t.upstream, t.source.Forecast)
	fc := res.Value
	if fc.Trend == nil {
		fc.Trend = map[string]string{}
	}
	if fc.Sources == nil {
		fc.Sources = []types.ForecastSource{}
	}
	t.upstream.Logger.Info("flood forecast fetched",
		"provider", t.upstream.Name(),
		"issued_at", fc.IssuedAt,
		"count", len(fc.Sources),
		"status", res.Status.String(),
	)
	if !res.OK() {
		return tools.Partial(fc)
	}
	return tools.OK(fc)
}

type presentation struct {
	IssuedAt  time.Time              `json:"issued_at,omitzero"`
	Narrative string                 `json:"narrative"`
	Trend     map[string]string      `json:"trend,omitempty"`
	Sources   []types.ForecastSource `json:"sources,omitempty"`
	Available bool                   `json:"available"`
}

// PresentForLLM shares the character allowance between the narrative and the
// source summaries. The narrative is truncated first to the full allowance;
// each source summary gets what the narrative left, split evenly.
func (t *Tool) PresentForLLM(r tools.Result, b *budget.Budget) any {
	fc, _ := r.Data.(types.FloodForecast)
	max := b.Limits.MaxForecastChars
	out := presentation{
		IssuedAt:  fc.IssuedAt,
		Narrative: budget.Truncate(fc.Narrative, max),
		Trend:     fc.Trend,
		Available: !fc.IsZero(),
	}
	if len(fc.Sources) == 0 {
		return out
	}
	perSource := 0
	if max > 0 {
		left := max - len([]rune(out.Narrative))
		perSource = left / len(fc.Sources)
		if perSource < 1 {
			return out
		}
	}
	out.Sources = make([]types.ForecastSource, 0, len(fc.Sources))
	for _, s := range fc.Sources {
		out.Sources = append(out.Sources, types.ForecastSource{
			Source:  s.Source,
			Summary: budget.Truncate(s.Summary, perSource),
		})
	}
	return out
}
