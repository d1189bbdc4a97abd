// Package pheromone provides stigmergic coordination: agents leave decaying
// markers at location keys and others read them instead of messaging.
package pheromone

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/blackms/swarmkit/internal/domain/swarm"
	"github.com/blackms/swarmkit/internal/shared"
)

// Config holds decay parameters.
type Config struct {
	// DecayRate is the fraction of intensity lost per DecayAll call.
	DecayRate float64
	// MinIntensity is the floor below which markers are removed.
	MinIntensity float64
}

// DefaultConfig returns the default pheromone configuration.
func DefaultConfig() Config {
	return Config{DecayRate: 0.1, MinIntensity: 0.01}
}

// WithDefaults replaces a decay rate outside (0, 1) and a non-positive
// floor with the defaults.
func (c Config) WithDefaults() Config {
	defaults := DefaultConfig()
	if c.DecayRate <= 0 || c.DecayRate >= 1 {
		c.DecayRate = defaults.DecayRate
	}
	if c.MinIntensity <= 0 {
		c.MinIntensity = defaults.MinIntensity
	}
	return c
}

// System owns the marker registry.
type System struct {
	mu        sync.RWMutex
	config    Config
	logger    *slog.Logger
	markers   map[string]*swarm.Marker
	locations map[string][]string // location -> marker ids in creation order
}

// New creates a new pheromone System.
func New(config Config, logger *slog.Logger) *System {
	if logger == nil {
		logger = slog.Default()
	}
	return &System{
		config:    config.WithDefaults(),
		logger:    logger.With("component", "pheromone"),
		markers:   make(map[string]*swarm.Marker),
		locations: make(map[string][]string),
	}
}

// LeaveMarker drops a marker at a location.
func (s *System) LeaveMarker(agentID, location string, ptype swarm.PheromoneType, intensity float64, payload shared.Value) swarm.Marker {
	m := swarm.NewMarker(agentID, location, ptype, intensity, payload)

	s.mu.Lock()
	s.markers[m.ID] = m
	s.locations[location] = append(s.locations[location], m.ID)
	s.mu.Unlock()

	return m.Clone()
}

// BroadcastSignal leaves the same marker at several locations and returns
// how many were placed.
func (s *System) BroadcastSignal(agentID string, locations []string, ptype swarm.PheromoneType, intensity float64) int {
	for _, loc := range locations {
		s.LeaveMarker(agentID, loc, ptype, intensity, shared.NullValue())
	}
	return len(locations)
}

// MarkersAt returns markers at a location, strongest first. When types are
// given only those types are returned.
func (s *System) MarkersAt(location string, types ...swarm.PheromoneType) []swarm.Marker {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.locations[location]
	result := make([]swarm.Marker, 0, len(ids))
	for _, id := range ids {
		m := s.markers[id]
		if len(types) > 0 && !hasType(types, m.Type) {
			continue
		}
		result = append(result, m.Clone())
	}

	// Stable sort keeps creation order among equal intensities.
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Intensity > result[j].Intensity
	})
	return result
}

// StrongestTrail returns the most intense trail marker at a location.
func (s *System) StrongestTrail(location string) (swarm.Marker, bool) {
	trails := s.MarkersAt(location, swarm.PheromoneTrail)
	if len(trails) == 0 {
		return swarm.Marker{}, false
	}
	return trails[0], true
}

// Reinforce raises a marker's intensity, saturating at 1.
func (s *System) Reinforce(markerID string, boost float64) (swarm.Marker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markers[markerID]
	if !ok {
		return swarm.Marker{}, shared.ErrMarkerNotFound.With("marker not found", "markerId", markerID)
	}
	m.Reinforce(boost)
	return m.Clone(), nil
}

// DecayAll applies one decay step to every marker and removes those that
// fall below MinIntensity. It returns the number removed.
func (s *System) DecayAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, m := range s.markers {
		m.Decay(s.config.DecayRate)
		if m.Intensity < s.config.MinIntensity {
			s.removeLocked(id)
			removed++
		}
	}

	if removed > 0 {
		s.logger.Debug("markers evaporated", "removed", removed, "remaining", len(s.markers))
	}
	return removed
}

// AttractionScore sums attracting markers minus repelling ones at a
// location, clamped to [-1, 1].
func (s *System) AttractionScore(location string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	score := 0.0
	for _, id := range s.locations[location] {
		m := s.markers[id]
		score += m.Type.Polarity() * m.Intensity
	}
	if score > 1 {
		return 1
	}
	if score < -1 {
		return -1
	}
	return score
}

// LocationsByType returns the sorted locations holding at least one marker
// of the given type.
func (s *System) LocationsByType(ptype swarm.PheromoneType) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	for _, m := range s.markers {
		if m.Type == ptype {
			seen[m.Location] = true
		}
	}
	locations := make([]string, 0, len(seen))
	for loc := range seen {
		locations = append(locations, loc)
	}
	sort.Strings(locations)
	return locations
}

// ClearLocation removes every marker at a location and returns the count.
func (s *System) ClearLocation(location string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.locations[location]
	for _, id := range ids {
		delete(s.markers, id)
	}
	delete(s.locations, location)
	return len(ids)
}

// TotalMarkers returns the number of live markers.
func (s *System) TotalMarkers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.markers)
}

// ActiveLocations returns the number of locations holding markers.
func (s *System) ActiveLocations() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.locations)
}

func (s *System) removeLocked(id string) {
	m, ok := s.markers[id]
	if !ok {
		return
	}
	delete(s.markers, id)

	ids := s.locations[m.Location]
	for i, other := range ids {
		if other == id {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(s.locations, m.Location)
	} else {
		s.locations[m.Location] = ids
	}
}

func hasType(types []swarm.PheromoneType, t swarm.PheromoneType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}
