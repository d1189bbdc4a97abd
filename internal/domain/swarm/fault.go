package swarm

import (
	"time"

	"github.com/blackms/swarmkit/internal/shared"
)

// FaultTypeCritical always escalates.
const FaultTypeCritical = "critical"

// FaultEvent records one reported failure and how it was handled.
type FaultEvent struct {
	ID           string      `json:"id"`
	AgentID      string      `json:"agent_id"`
	TaskID       string      `json:"task_id"`
	FaultType    string      `json:"fault_type"`
	Action       FaultAction `json:"action"`
	Resolved     bool        `json:"resolved"`
	ReassignedTo string      `json:"reassigned_to"`
	Timestamp    time.Time   `json:"timestamp"`
}

// NewFaultEvent creates an unresolved event.
func NewFaultEvent(agentID, taskID, faultType string, action FaultAction) *FaultEvent {
	return &FaultEvent{
		ID:        shared.NewID(),
		AgentID:   agentID,
		TaskID:    taskID,
		FaultType: faultType,
		Action:    action,
		Timestamp: time.Now(),
	}
}

// FaultKey identifies the (agent, task) pair a fault event belongs to.
type FaultKey struct {
	AgentID string
	TaskID  string
}

// Key returns the event's (agent, task) key.
func (e *FaultEvent) Key() FaultKey {
	return FaultKey{AgentID: e.AgentID, TaskID: e.TaskID}
}
