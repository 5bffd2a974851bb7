// Package correlation implements the get-correlation-summary tool.
//
// Unlike the other tools it calls no provider. It reads the flood warnings,
// road incidents and river readings already fetched in the same conversation
// from the [tools.Context] and applies configured rules to them:
//
//   - area rules pair a flood warning area with the roads that flood when it
//     is in force, producing cross references to incidents on those roads
//     and to flood related incidents on any road;
//   - river triggers produce predictive warnings when a gauge exceeds a level.
//
// The model must call the data tools first. Calls are never reordered; when
// no input is available the summary says so.
package correlation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/floodwatch/internal/budget"
	"github.com/MrWong99/floodwatch/internal/tools"
	"github.com/MrWong99/floodwatch/pkg/types"
)

// DefaultMatchThreshold is the Jaro-Winkler similarity at which an area name
// matches warning text.
const DefaultMatchThreshold = 0.85

// AreaRoads lists the roads affected when a flood area is under warning.
type AreaRoads struct {
	Area  string   `yaml:"area" json:"area"`
	Roads []string `yaml:"roads" json:"roads"`
}

// RiverTrigger raises a predictive warning when a station on River (or the
// named Station) reads above LevelAbove.
type RiverTrigger struct {
	River      string   `yaml:"river" json:"river,omitempty"`
	Station    string   `yaml:"station" json:"station,omitempty"`
	LevelAbove float64  `yaml:"level_above" json:"level_above"`
	Roads      []string `yaml:"roads" json:"roads,omitempty"`
	Message    string   `yaml:"message" json:"message,omitempty"`
}

// Config holds the correlation rules.
type Config struct {
	MatchThreshold float64        `yaml:"match_threshold" json:"match_threshold"`
	AreaRoads      []AreaRoads    `yaml:"area_roads" json:"area_roads"`
	RiverTriggers  []RiverTrigger `yaml:"river_triggers" json:"river_triggers"`
}

// CrossReference links a flood warning to a road incident.
type CrossReference struct {
	WarningID    string `json:"warning_id"`
	Area         string `json:"area"`
	Severity     string `json:"severity"`
	Road         string `json:"road"`
	IncidentID   string `json:"incident_id"`
	Incident     string `json:"incident"`
	FloodRelated bool   `json:"flood_related"`
}

// PredictiveWarning is raised by a river trigger.
type PredictiveWarning struct {
	Station   string   `json:"station"`
	River     string   `json:"river,omitempty"`
	Level     float64  `json:"level"`
	Threshold float64  `json:"threshold"`
	Trend     string   `json:"trend,omitempty"`
	Roads     []string `json:"roads,omitempty"`
	Message   string   `json:"message"`
}

// Summary is the full result of the tool.
type Summary struct {
	CrossReferences       []CrossReference     `json:"cross_references"`
	PredictiveWarnings    []PredictiveWarning  `json:"predictive_warnings"`
	FloodRelatedIncidents []types.RoadIncident `json:"flood_related_incidents"`
	Summary               string               `json:"summary"`
}

// Tool is the get-correlation-summary tool.
type Tool struct {
	cfg    Config
	logger *slog.Logger
}

var _ tools.Tool = (*Tool)(nil)

// New returns the tool. A zero MatchThreshold selects
// [DefaultMatchThreshold].
func New(cfg Config, logger *slog.Logger) *Tool {
	if cfg.MatchThreshold <= 0 {
		cfg.MatchThreshold = DefaultMatchThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tool{cfg: cfg, logger: logger}
}

// Name implements [tools.Tool].
func (t *Tool) Name() string { return tools.NameCorrelationSummary }

// Definition implements [tools.Tool].
func (t *Tool) Definition() tools.Definition {
	return tools.Definition{
		Name: tools.NameCorrelationSummary,
		Description: "Cross-reference the flood warnings, road incidents and river levels " +
			"already fetched in this conversation. Call it only after get-flood-data, " +
			"get-highways-incidents and get-river-levels.",
		Parameters: tools.EmptySchema(),
	}
}

// Execute correlates the results recorded in tc.
func (t *Tool) Execute(_ context.Context, _ tools.Args, tc *tools.Context) tools.Result {
	warnings, hasFloods := tools.Lookup[[]types.FloodWarning](tc, tools.ResultKey(tools.NameFloodData))
	incidents, hasIncidents := tools.Lookup[[]types.RoadIncident](tc, tools.ResultKey(tools.NameHighwaysIncidents))
	readings, hasRivers := tools.Lookup[[]types.RiverReading](tc, tools.ResultKey(tools.NameRiverLevels))

	s := t.Correlate(warnings, incidents, readings)
	if !hasFloods && !hasIncidents && !hasRivers {
		s.Summary = "No flood, road or river data has been fetched in this conversation yet; " +
			"call the data tools before correlating."
	}
	t.logger.Info("correlation computed",
		"floods", len(warnings),
		"incidents", len(incidents),
		"rivers", len(readings),
		"cross_references", len(s.CrossReferences),
		"predictive_warnings", len(s.PredictiveWarnings),
	)
	return tools.OK(s)
}

// Correlate applies the configured rules. It is deterministic: output order
// follows input order and rule order.
func (t *Tool) Correlate(warnings []types.FloodWarning, incidents []types.RoadIncident, readings []types.RiverReading) Summary {
	s := Summary{
		CrossReferences:       []CrossReference{},
		PredictiveWarnings:    []PredictiveWarning{},
		FloodRelatedIncidents: []types.RoadIncident{},
	}

	for _, in := range incidents {
		if in.FloodRelated {
			s.FloodRelatedIncidents = append(s.FloodRelatedIncidents, in)
		}
	}

	// Keyed by position: feed ids are optional and may be empty.
	seen := make(map[[2]int]bool)
	active := 0
	for wi, w := range warnings {
		if w.Level == int(types.SeverityInactive) {
			continue
		}
		active++
		for _, rule := range t.cfg.AreaRoads {
			if !t.matches(rule.Area, w.Description) && !t.matches(rule.Area, w.AreaID) {
				continue
			}
			for ii, in := range incidents {
				if !isActive(in) {
					continue
				}
				if !in.FloodRelated && !containsRoad(rule.Roads, in.Road) {
					continue
				}
				key := [2]int{wi, ii}
				if seen[key] {
					continue
				}
				seen[key] = true
				s.CrossReferences = append(s.CrossReferences, CrossReference{
					WarningID:    w.ID,
					Area:         w.Description,
					Severity:     w.Severity,
					Road:         in.Road,
					IncidentID:   in.ID,
					Incident:     incidentText(in),
					FloodRelated: in.FloodRelated,
				})
			}
		}
	}

	elevated := 0
	for _, rd := range readings {
		if rd.Status == types.RiverElevated {
			elevated++
		}
		for _, tr := range t.cfg.RiverTriggers {
			if !t.triggers(tr, rd) {
				continue
			}
			s.PredictiveWarnings = append(s.PredictiveWarnings, PredictiveWarning{
				Station:   rd.Station,
				River:     rd.River,
				Level:     rd.Level,
				Threshold: tr.LevelAbove,
				Trend:     rd.Trend,
				Roads:     tr.Roads,
				Message:   triggerMessage(tr, rd),
			})
		}
	}

	s.Summary = fmt.Sprintf(
		"%d active flood warnings, %d flood related road incidents, %d elevated river stations; "+
			"%d warning to road cross references and %d predictive warnings.",
		active, len(s.FloodRelatedIncidents), elevated, len(s.CrossReferences), len(s.PredictiveWarnings))
	return s
}

// matches reports whether pattern names text. Either may contain the other,
// or pattern may fuzzily match a run of words in text of the same length.
func (t *Tool) matches(pattern, text string) bool {
	p := normalize(pattern)
	x := normalize(text)
	if p == "" || x == "" {
		return false
	}
	if strings.Contains(x, p) || strings.Contains(p, x) {
		return true
	}
	if matchr.JaroWinkler(p, x, false) >= t.cfg.MatchThreshold {
		return true
	}
	pw := strings.Fields(p)
	xw := strings.Fields(x)
	for i := 0; i+len(pw) <= len(xw); i++ {
		window := strings.Join(xw[i:i+len(pw)], " ")
		if matchr.JaroWinkler(p, window, false) >= t.cfg.MatchThreshold {
			return true
		}
	}
	return false
}

func (t *Tool) triggers(tr RiverTrigger, rd types.RiverReading) bool {
	if rd.Level <= tr.LevelAbove {
		return false
	}
	if tr.Station != "" && sameName(tr.Station, rd.Station) {
		return true
	}
	return tr.River != "" && sameName(tr.River, rd.River)
}

// sameName compares gauge and river names exactly, ignoring case and spacing.
// Fuzzy matching is too loose here: "River Coquet" and "River Tyne" score
// above the area threshold.
func sameName(a, b string) bool {
	return normalize(a) != "" && normalize(a) == normalize(b)
}

func triggerMessage(tr RiverTrigger, rd types.RiverReading) string {
	if tr.Message != "" {
		return tr.Message
	}
	msg := fmt.Sprintf("%s is at %.2f%s, above the %.2f%s trigger level",
		rd.Station, rd.Level, rd.Unit, tr.LevelAbove, rd.Unit)
	if len(tr.Roads) > 0 {
		msg += "; flooding possible on " + strings.Join(tr.Roads, ", ")
	}
	return msg
}

func incidentText(in types.RoadIncident) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{in.Type, in.Location, in.Description} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ": ")
}

func isActive(in types.RoadIncident) bool {
	switch strings.ToLower(in.Status) {
	case "cleared", "resolved", "inactive":
		return false
	}
	return true
}

func containsRoad(roads []string, road string) bool {
	r := normalizeRoad(road)
	for _, x := range roads {
		if normalizeRoad(x) == r {
			return true
		}
	}
	return false
}

func normalizeRoad(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), ""))
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// presentation keeps the shape of [Summary] with totals for every list.
type presentation struct {
	CrossReferences       []CrossReference    `json:"cross_references"`
	CrossReferenceTotal   int                 `json:"cross_reference_total"`
	PredictiveWarnings    []PredictiveWarning `json:"predictive_warnings"`
	PredictiveTotal       int                 `json:"predictive_warning_total"`
	FloodRelatedIncidents []incidentView      `json:"flood_related_incidents"`
	FloodRelatedTotal     int                 `json:"flood_related_incident_total"`
	Summary               string              `json:"summary"`
}

type incidentView struct {
	Road        string `json:"road"`
	Status      string `json:"status,omitempty"`
	Description string `json:"description,omitempty"`
}

// PresentForLLM first caps every sub-list, then truncates the text fields of
// what remains. The summary sentence is never truncated.
func (t *Tool) PresentForLLM(r tools.Result, b *budget.Budget) any {
	s, _ := r.Data.(Summary)
	maxItems := b.Limits.MaxCorrelationItems
	maxText := b.Limits.MaxCorrelationTextChars

	out := presentation{
		CrossReferences:       budget.CapList(s.CrossReferences, maxItems),
		CrossReferenceTotal:   len(s.CrossReferences),
		PredictiveWarnings:    budget.CapList(s.PredictiveWarnings, maxItems),
		PredictiveTotal:       len(s.PredictiveWarnings),
		FloodRelatedTotal:     len(s.FloodRelatedIncidents),
		FloodRelatedIncidents: []incidentView{},
		Summary:               s.Summary,
	}

	refs := make([]CrossReference, len(out.CrossReferences))
	for i, cr := range out.CrossReferences {
		cr.Area = budget.Truncate(cr.Area, maxText)
		cr.Incident = budget.Truncate(cr.Incident, maxText)
		refs[i] = cr
	}
	out.CrossReferences = refs

	preds := make([]PredictiveWarning, len(out.PredictiveWarnings))
	for i, pw := range out.PredictiveWarnings {
		pw.Message = budget.Truncate(pw.Message, maxText)
		preds[i] = pw
	}
	out.PredictiveWarnings = preds

	for _, in := range budget.CapList(s.FloodRelatedIncidents, maxItems) {
		out.FloodRelatedIncidents = append(out.FloodRelatedIncidents, incidentView{
			Road:        in.Road,
			Status:      in.Status,
			Description: budget.Truncate(incidentText(in), maxText),
		})
	}
	return out
}
