package swarm

import (
	"time"

	"github.com/blackms/swarmkit/internal/shared"
)

// Marker is a decaying pheromone left at a location key.
type Marker struct {
	ID          string        `json:"id"`
	Type        PheromoneType `json:"type"`
	SourceAgent string        `json:"source_agent"`
	Location    string        `json:"location"`
	Intensity   float64       `json:"intensity"`
	Payload     shared.Value  `json:"payload"`
	CreatedAt   time.Time     `json:"created_at"`
}

// NewMarker creates a marker with its intensity clamped to [0, 1].
func NewMarker(agentID, location string, ptype PheromoneType, intensity float64, payload shared.Value) *Marker {
	return &Marker{
		ID:          shared.NewID(),
		Type:        ptype,
		SourceAgent: agentID,
		Location:    location,
		Intensity:   shared.ClampUnit(intensity),
		Payload:     payload.Clone(),
		CreatedAt:   time.Now(),
	}
}

// Reinforce raises the intensity, saturating at 1.
func (m *Marker) Reinforce(boost float64) {
	m.Intensity = shared.ClampUnit(m.Intensity + boost)
}

// Decay scales the intensity by (1 - rate).
func (m *Marker) Decay(rate float64) {
	m.Intensity *= 1 - rate
}

// Clone returns a detached copy.
func (m *Marker) Clone() Marker {
	c := *m
	c.Payload = m.Payload.Clone()
	return c
}
