// Package types defines the normalized records shared across floodwatch packages.
//
// Provider clients translate their upstream payloads into these types; tool
// handlers, the survey and HTTP callers consume them. Each provider package
// keeps its own wire types, but cross-cutting records live here to avoid
// circular imports.
package types

import "time"

// Severity is the flood warning tier. Lower values are more severe.
type Severity int

const (
	SeverityUnknown Severity = iota
	// SeveritySevere means danger to life.
	SeveritySevere
	// SeverityWarning means flooding is expected and immediate action is required.
	SeverityWarning
	// SeverityAlert means flooding is possible.
	SeverityAlert
	// SeverityInactive marks a warning that is no longer in force.
	SeverityInactive
)

// String returns the lower-case tier name.
func (s Severity) String() string {
	switch s {
	case SeveritySevere:
		return "severe"
	case SeverityWarning:
		return "warning"
	case SeverityAlert:
		return "alert"
	case SeverityInactive:
		return "no-longer-in-force"
	default:
		return "unknown"
	}
}

// SeverityFromLevel maps the numeric 1..4 severity level used by the
// Environment Agency onto a [Severity].
func SeverityFromLevel(level int) Severity {
	if level < int(SeveritySevere) || level > int(SeverityInactive) {
		return SeverityUnknown
	}
	return Severity(level)
}

// FloodWarning is a single flood warning or alert.
type FloodWarning struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	AreaID      string    `json:"area_id"`
	County      string    `json:"county,omitempty"`
	Severity    string    `json:"severity"`
	Level       int       `json:"severity_level"`
	Message     string    `json:"message"`
	Raised      time.Time `json:"raised"`
	Changed     time.Time `json:"changed"`

	// Geometry is the polygon reference for map rendering. It is never shown
	// to the LLM.
	Geometry string `json:"geometry,omitempty"`
}

// RoadIncident is a single incident on the strategic road network.
type RoadIncident struct {
	ID           string    `json:"id"`
	Road         string    `json:"road"`
	Direction    string    `json:"direction,omitempty"`
	Location     string    `json:"location,omitempty"`
	Status       string    `json:"status"`
	Type         string    `json:"type"`
	Description  string    `json:"description,omitempty"`
	Delay        string    `json:"delay,omitempty"`
	FloodRelated bool      `json:"flood_related"`
	Updated      time.Time `json:"updated"`
}

// River level status classifications.
const (
	RiverElevated = "elevated"
	RiverExpected = "expected"
	RiverLow      = "low"
	RiverUnknown  = "unknown"
)

// River level trends.
const (
	TrendRising  = "rising"
	TrendFalling = "falling"
	TrendSteady  = "steady"
	TrendUnknown = "unknown"
)

// RiverReading is the latest level at one monitoring station.
type RiverReading struct {
	StationID string    `json:"station_id"`
	Station   string    `json:"station"`
	River     string    `json:"river,omitempty"`
	Town      string    `json:"town,omitempty"`
	Level     float64   `json:"level"`
	Unit      string    `json:"unit"`
	Status    string    `json:"status"`
	Trend     string    `json:"trend"`
	Latitude  float64   `json:"lat,omitempty"`
	Longitude float64   `json:"lon,omitempty"`
	Observed  time.Time `json:"observed"`
}

// ForecastSource is a summary attributed to one flood source (river, coastal, ...).
type ForecastSource struct {
	Source  string `json:"source"`
	Summary string `json:"summary"`
}

// FloodForecast is the national flood guidance statement.
type FloodForecast struct {
	IssuedAt  time.Time         `json:"issued_at"`
	Narrative string            `json:"narrative"`
	Trend     map[string]string `json:"trend"`
	Sources   []ForecastSource  `json:"sources"`
}

// IsZero reports whether the forecast carries no data.
func (f FloodForecast) IsZero() bool {
	return f.IssuedAt.IsZero() && f.Narrative == "" && len(f.Trend) == 0 && len(f.Sources) == 0
}
