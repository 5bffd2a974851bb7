// Package mock provides a test double for [roads.IncidentSource].
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/floodwatch/pkg/provider/roads"
	"github.com/MrWong99/floodwatch/pkg/types"
)

// Source returns canned incidents.
type Source struct {
	mu sync.Mutex

	Result []types.RoadIncident
	Err    error

	// Regions records the region of every call.
	Regions []string
}

var _ roads.IncidentSource = (*Source)(nil)

// Incidents returns Result, Err.
func (s *Source) Incidents(_ context.Context, region string) ([]types.RoadIncident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Regions = append(s.Regions, region)
	return s.Result, s.Err
}

// CallCount returns the number of Incidents calls so far.
func (s *Source) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Regions)
}
