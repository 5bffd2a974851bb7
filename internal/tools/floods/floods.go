// Package floods implements the get-flood-data tool: active flood warnings
// around a point.
package floods

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrWong99/floodwatch/internal/budget"
	"github.com/MrWong99/floodwatch/internal/tools"
	"github.com/MrWong99/floodwatch/pkg/provider/flood"
	"github.com/MrWong99/floodwatch/pkg/types"
)

// Tool is the get-flood-data tool.
type Tool struct {
	source   flood.WarningSource
	upstream tools.Upstream
	defaults tools.Location
}

var _ tools.Tool = (*Tool)(nil)

// New returns the tool. defaults is the search area used for arguments the
// model leaves out.
func New(source flood.WarningSource, upstream tools.Upstream, defaults tools.Location) *Tool {
	if upstream.Logger == nil {
		upstream.Logger = slog.Default()
	}
	return &Tool{source: source, upstream: upstream, defaults: defaults}
}

// Name implements [tools.Tool].
func (t *Tool) Name() string { return tools.NameFloodData }

// Definition implements [tools.Tool].
func (t *Tool) Definition() tools.Definition {
	return tools.Definition{
		Name: tools.NameFloodData,
		Description: "Get active flood warnings and alerts issued by the Environment Agency " +
			"around a point. Returns severity, affected area and the warning message.",
		Parameters: tools.LocationSchema("flood warnings"),
	}
}

// Execute fetches warnings. Any upstream failure yields an empty list.
func (t *Tool) Execute(ctx context.Context, args tools.Args, tc *tools.Context) tools.Result {
	loc := tools.ResolveLocation(args, tc, t.defaults)
	res := tools.Call(ctx, t.upstream, func(ctx context.Context) ([]types.FloodWarning, error) {
		return t.source.Warnings(ctx, loc.Area())
	})
	warnings := res.Value
	if warnings == nil {
		warnings = []types.FloodWarning{}
	}
	t.upstream.Logger.Info("flood data fetched",
		"provider", t.upstream.Name(),
		"lat", loc.Latitude,
		"lon", loc.Longitude,
		"radius_km", loc.RadiusKm,
		"count", len(warnings),
		"status", res.Status.String(),
	)
	if !res.OK() {
		return tools.Partial(warnings)
	}
	return tools.OK(warnings)
}

// warningView is the model-facing form of a warning. Geometry is never sent.
type warningView struct {
	Description string    `json:"description"`
	Severity    string    `json:"severity"`
	Message     string    `json:"message,omitempty"`
	AreaID      string    `json:"area_id,omitempty"`
	Raised      time.Time `json:"raised,omitzero"`
	Changed     time.Time `json:"changed,omitzero"`
}

// presentation is the model-facing payload.
type presentation struct {
	Total    int           `json:"total"`
	Warnings []warningView `json:"warnings"`
}

// PresentForLLM caps the warning list and truncates messages.
func (t *Tool) PresentForLLM(r tools.Result, b *budget.Budget) any {
	warnings, _ := r.Data.([]types.FloodWarning)
	capped := budget.CapList(warnings, b.Limits.MaxFloods)
	out := presentation{Total: len(warnings), Warnings: make([]warningView, 0, len(capped))}
	for _, w := range capped {
		out.Warnings = append(out.Warnings, warningView{
			Description: w.Description,
			Severity:    w.Severity,
			Message:     budget.Truncate(w.Message, b.Limits.MaxFloodMessageChars),
			AreaID:      w.AreaID,
			Raised:      w.Raised,
			Changed:     w.Changed,
		})
	}
	return out
}
