// Package flood defines the provider interfaces for flood warnings, river
// levels and the national flood forecast.
//
// Implementations return normalized records from pkg/types. An error return
// means the upstream could not be consulted; the caller decides how to degrade.
// All implementations must be safe for concurrent use.
package flood

import (
	"context"

	"github.com/MrWong99/floodwatch/pkg/types"
)

// Area is a circular search area.
type Area struct {
	Latitude  float64
	Longitude float64
	RadiusKm  float64
}

// WarningSource lists active flood warnings.
type WarningSource interface {
	// Warnings returns the warnings whose target areas intersect area.
	Warnings(ctx context.Context, area Area) ([]types.FloodWarning, error)
}

// RiverSource reports river gauge readings.
type RiverSource interface {
	// Readings returns the latest level at each station within area.
	Readings(ctx context.Context, area Area) ([]types.RiverReading, error)
}

// ForecastSource returns the national flood guidance statement.
type ForecastSource interface {
	Forecast(ctx context.Context) (types.FloodForecast, error)
}
