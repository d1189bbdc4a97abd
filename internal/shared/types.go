// Package shared provides shared types used across all modules in swarmkit.
package shared

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Identifiers
// ============================================================================

// idLength is the number of hex characters kept from a UUID.
const idLength = 12

// NewID returns a short opaque token suitable for entity ids.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:idLength]
}

// ============================================================================
// Event Types
// ============================================================================

// EventType represents the type of an event.
type EventType string

const (
	EventMissionCreated   EventType = "mission:created"
	EventMissionDissolved EventType = "mission:dissolved"
	EventTaskAssigned     EventType = "task:assigned"
	EventAuctionOpened    EventType = "auction:opened"
	EventDecisionMade     EventType = "decision:made"
	EventAgentFailed      EventType = "agent:failed"
	EventAgentHealed      EventType = "agent:healed"
	EventKnowledgeShared  EventType = "knowledge:shared"
	EventOptimized        EventType = "swarm:optimized"
)

// Event represents a generic event in the system.
type Event struct {
	Type      EventType        `json:"type"`
	Timestamp int64            `json:"timestamp"`
	Payload   map[string]Value `json:"payload"`
}

// ============================================================================
// Utility Functions
// ============================================================================

// Now returns the current time in milliseconds.
func Now() int64 {
	return time.Now().UnixMilli()
}

// ClampUnit clamps v into [0, 1].
func ClampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ContainsString reports whether s is in list.
func ContainsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
