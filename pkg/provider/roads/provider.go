// Package roads defines the provider interface for road incident feeds.
package roads

import (
	"context"
	"strings"

	"github.com/MrWong99/floodwatch/pkg/types"
)

// IncidentSource lists current incidents on the road network.
//
// Implementations must be safe for concurrent use.
type IncidentSource interface {
	// Incidents returns the incidents within region. An empty region means
	// the whole network.
	Incidents(ctx context.Context, region string) ([]types.RoadIncident, error)
}

// floodTerms mark an incident as flood related.
var floodTerms = []string{"flood", "standing water", "surface water", "high water"}

// IsFloodRelated reports whether an incident type or description mentions
// flooding.
func IsFloodRelated(texts ...string) bool {
	for _, t := range texts {
		lower := strings.ToLower(t)
		for _, term := range floodTerms {
			if strings.Contains(lower, term) {
				return true
			}
		}
	}
	return false
}
