// Package mock provides test doubles for the flood provider interfaces.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/floodwatch/pkg/provider/flood"
	"github.com/MrWong99/floodwatch/pkg/types"
)

// Source implements [flood.WarningSource], [flood.RiverSource] and
// [flood.ForecastSource] with canned data.
type Source struct {
	mu sync.Mutex

	WarningsResult []types.FloodWarning
	WarningsErr    error

	ReadingsResult []types.RiverReading
	ReadingsErr    error

	ForecastResult types.FloodForecast
	ForecastErr    error

	// Areas records the area of every Warnings and Readings call.
	Areas         []flood.Area
	WarningCalls  int
	ReadingCalls  int
	ForecastCalls int
}

// Compile-time interface assertions.
var (
	_ flood.WarningSource  = (*Source)(nil)
	_ flood.RiverSource    = (*Source)(nil)
	_ flood.ForecastSource = (*Source)(nil)
)

// Warnings returns WarningsResult, WarningsErr.
func (s *Source) Warnings(_ context.Context, area flood.Area) ([]types.FloodWarning, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.WarningCalls++
	s.Areas = append(s.Areas, area)
	return s.WarningsResult, s.WarningsErr
}

// Readings returns ReadingsResult, ReadingsErr.
func (s *Source) Readings(_ context.Context, area flood.Area) ([]types.RiverReading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ReadingCalls++
	s.Areas = append(s.Areas, area)
	return s.ReadingsResult, s.ReadingsErr
}

// Forecast returns ForecastResult, ForecastErr.
func (s *Source) Forecast(context.Context) (types.FloodForecast, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ForecastCalls++
	return s.ForecastResult, s.ForecastErr
}

// Calls returns the number of Warnings, Readings and Forecast calls so far.
func (s *Source) Calls() (warnings, readings, forecasts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.WarningCalls, s.ReadingCalls, s.ForecastCalls
}
