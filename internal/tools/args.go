package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/MrWong99/floodwatch/pkg/provider/flood"
)

// Argument names shared by the location tools.
const (
	ArgLatitude  = "latitude"
	ArgLongitude = "longitude"
	ArgRadiusKm  = "radius_km"
)

// MaxRadiusKm bounds the search radius a model may request.
const MaxRadiusKm = 100

// Args is the decoded argument object of one tool call. Keys are normalized
// so "radius-km" and "radius_km" address the same argument.
type Args map[string]any

// ParseArgs decodes a raw JSON argument object. Empty input and "null" decode
// to an empty Args.
func ParseArgs(raw string) (Args, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return Args{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("tools: arguments are not a JSON object: %w", err)
	}
	out := make(Args, len(m))
	for k, v := range m {
		out[strings.ReplaceAll(k, "-", "_")] = v
	}
	return out, nil
}

// Float returns the numeric argument key.
func (a Args) Float(key string) (float64, bool) {
	switch v := a[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Location is a search centre and radius.
type Location struct {
	Latitude  float64 `yaml:"latitude" json:"latitude"`
	Longitude float64 `yaml:"longitude" json:"longitude"`
	RadiusKm  float64 `yaml:"radius_km" json:"radius_km"`
}

// Area converts l to the provider search area.
func (l Location) Area() flood.Area {
	return flood.Area{Latitude: l.Latitude, Longitude: l.Longitude, RadiusKm: l.RadiusKm}
}

// ResolveLocation fills the location arguments of a call. Explicit arguments
// win, then the request centre carried by tc, then def.
func ResolveLocation(a Args, tc *Context, def Location) Location {
	loc := def
	if lat, lon, ok := tc.Center(); ok {
		loc.Latitude, loc.Longitude = lat, lon
	}
	if v, ok := a.Float(ArgLatitude); ok {
		loc.Latitude = v
	}
	if v, ok := a.Float(ArgLongitude); ok {
		loc.Longitude = v
	}
	if v, ok := a.Float(ArgRadiusKm); ok {
		loc.RadiusKm = v
	}
	return loc
}

// LocationSchema returns the argument schema of a location tool. subject
// names what is searched for in the property descriptions.
func LocationSchema(subject string) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			ArgLatitude: {
				Type:        "number",
				Description: "Latitude of the centre to search for " + subject + ". Defaults to the region centre.",
				Minimum:     ptr(-90.0),
				Maximum:     ptr(90.0),
			},
			ArgLongitude: {
				Type:        "number",
				Description: "Longitude of the centre to search for " + subject + ". Defaults to the region centre.",
				Minimum:     ptr(-180.0),
				Maximum:     ptr(180.0),
			},
			ArgRadiusKm: {
				Type:             "number",
				Description:      fmt.Sprintf("Search radius in kilometres, at most %d.", MaxRadiusKm),
				ExclusiveMinimum: ptr(0.0),
				Maximum:          ptr(float64(MaxRadiusKm)),
			},
		},
	}
}

// EmptySchema is the argument schema of a tool without parameters.
func EmptySchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:       "object",
		Properties: map[string]*jsonschema.Schema{},
	}
}

func ptr[T any](v T) *T { return &v }
