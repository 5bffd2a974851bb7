// Package incidents implements the get-highways-incidents tool: current
// incidents on the strategic road network in the conversation's region.
package incidents

import (
	"context"
	"log/slog"

	"github.com/MrWong99/floodwatch/internal/budget"
	"github.com/MrWong99/floodwatch/internal/tools"
	"github.com/MrWong99/floodwatch/pkg/provider/roads"
	"github.com/MrWong99/floodwatch/pkg/types"
)

// Tool is the get-highways-incidents tool.
type Tool struct {
	source        roads.IncidentSource
	upstream      tools.Upstream
	defaultRegion string
}

var _ tools.Tool = (*Tool)(nil)

// New returns the tool. defaultRegion is used when the conversation carries
// no region of its own.
func New(source roads.IncidentSource, upstream tools.Upstream, defaultRegion string) *Tool {
	if upstream.Logger == nil {
		upstream.Logger = slog.Default()
	}
	return &Tool{source: source, upstream: upstream, defaultRegion: defaultRegion}
}

// Name implements [tools.Tool].
func (t *Tool) Name() string { return tools.NameHighwaysIncidents }

// Definition implements [tools.Tool].
func (t *Tool) Definition() tools.Definition {
	return tools.Definition{
		Name: tools.NameHighwaysIncidents,
		Description: "Get current incidents on motorways and major A roads in the region, " +
			"including closures, delays and whether the incident is flood related.",
		Parameters: tools.EmptySchema(),
	}
}

// Execute fetches incidents for the conversation region.
func (t *Tool) Execute(ctx context.Context, _ tools.Args, tc *tools.Context) tools.Result {
	region := t.defaultRegion
	if tc != nil && tc.Region != "" {
		region = tc.Region
	}
	res := tools.Call(ctx, t.upstream, func(ctx context.Context) ([]types.RoadIncident, error) {
		return t.source.Incidents(ctx, region)
	})
	incidents := res.Value
	if incidents == nil {
		incidents = []types.RoadIncident{}
	}
	t.upstream.Logger.Info("road incidents fetched",
		"provider", t.upstream.Name(),
		"region", region,
		"count", len(incidents),
		"status", res.Status.String(),
	)
	if !res.OK() {
		return tools.Partial(incidents)
	}
	return tools.OK(incidents)
}

type incidentView struct {
	Road         string `json:"road"`
	Direction    string `json:"direction,omitempty"`
	Location     string `json:"location,omitempty"`
	Status       string `json:"status,omitempty"`
	Type         string `json:"type,omitempty"`
	Description  string `json:"description,omitempty"`
	Delay        string `json:"delay,omitempty"`
	FloodRelated bool   `json:"flood_related,omitempty"`
}

type presentation struct {
	Total        int            `json:"total"`
	FloodRelated int            `json:"flood_related"`
	Incidents    []incidentView `json:"incidents"`
}

// PresentForLLM lists flood related incidents first, then caps the list and
// truncates free text.
func (t *Tool) PresentForLLM(r tools.Result, b *budget.Budget) any {
	all, _ := r.Data.([]types.RoadIncident)
	ordered := make([]types.RoadIncident, 0, len(all))
	flooded := 0
	for _, in := range all {
		if in.FloodRelated {
			ordered = append(ordered, in)
			flooded++
		}
	}
	for _, in := range all {
		if !in.FloodRelated {
			ordered = append(ordered, in)
		}
	}

	maxText := b.Limits.MaxIncidentTextChars
	capped := budget.CapList(ordered, b.Limits.MaxIncidents)
	out := presentation{
		Total:        len(all),
		FloodRelated: flooded,
		Incidents:    make([]incidentView, 0, len(capped)),
	}
	for _, in := range capped {
		out.Incidents = append(out.Incidents, incidentView{
			Road:         in.Road,
			Direction:    in.Direction,
			Location:     budget.Truncate(in.Location, maxText),
			Status:       in.Status,
			Type:         in.Type,
			Description:  budget.Truncate(in.Description, maxText),
			Delay:        in.Delay,
			FloodRelated: in.FloodRelated,
		})
	}
	return out
}
