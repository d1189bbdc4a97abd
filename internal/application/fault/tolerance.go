// Package fault provides SwarmFaultTolerance: failure reporting with a
// retry, reassign or escalate decision, backup agents and healing.
package fault

import (
	"log/slog"
	"sync"

	"github.com/blackms/swarmkit/internal/domain/swarm"
	"github.com/blackms/swarmkit/internal/shared"
)

// DefaultFaultType is recorded when a failure is reported without a type.
const DefaultFaultType = "unknown"

// Config holds fault tolerance settings.
type Config struct {
	// MaxRetries is the number of retries allowed per (agent, task).
	MaxRetries int
}

// DefaultConfig returns the default fault tolerance configuration.
func DefaultConfig() Config {
	return Config{MaxRetries: 3}
}

// WithDefaults replaces a non-positive retry budget with the default.
func (c Config) WithDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultConfig().MaxRetries
	}
	return c
}

// EventFilter narrows Events. Empty fields match everything.
type EventFilter struct {
	AgentID        string
	TaskID         string
	UnresolvedOnly bool
}

func (f EventFilter) matches(e *swarm.FaultEvent) bool {
	if f.AgentID != "" && e.AgentID != f.AgentID {
		return false
	}
	if f.TaskID != "" && e.TaskID != f.TaskID {
		return false
	}
	return !f.UnresolvedOnly || !e.Resolved
}

type agentHealth struct {
	healthy bool
	tasks   []string
}

// Tolerance tracks agent health, backups, retries and fault events.
type Tolerance struct {
	mu      sync.RWMutex
	config  Config
	logger  *slog.Logger
	agents  map[string]*agentHealth
	order   []string
	backups map[string]string
	retries map[swarm.FaultKey]int
	events  []*swarm.FaultEvent
	latest  map[swarm.FaultKey]*swarm.FaultEvent
}

// New creates a new Tolerance.
func New(config Config, logger *slog.Logger) *Tolerance {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tolerance{
		config:  config.WithDefaults(),
		logger:  logger.With("component", "fault"),
		agents:  make(map[string]*agentHealth),
		order:   make([]string, 0),
		backups: make(map[string]string),
		retries: make(map[swarm.FaultKey]int),
		events:  make([]*swarm.FaultEvent, 0),
		latest:  make(map[swarm.FaultKey]*swarm.FaultEvent),
	}
}

// RegisterAgent marks an agent healthy and records the tasks it holds.
func (t *Tolerance) RegisterAgent(agentID string, tasks ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	a := t.ensureLocked(agentID)
	a.healthy = true
	for _, taskID := range tasks {
		if taskID != "" && !shared.ContainsString(a.tasks, taskID) {
			a.tasks = append(a.tasks, taskID)
		}
	}
}

// TrackTask records that agentID now holds taskID, removing it from any
// other agent. Health is left unchanged.
func (t *Tolerance) TrackTask(agentID, taskID string) {
	if taskID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, a := range t.agents {
		if id != agentID {
			a.tasks = removeString(a.tasks, taskID)
		}
	}
	a := t.ensureLocked(agentID)
	if !shared.ContainsString(a.tasks, taskID) {
		a.tasks = append(a.tasks, taskID)
	}
}

// ensureLocked returns the agent's record, creating a healthy one if needed.
func (t *Tolerance) ensureLocked(agentID string) *agentHealth {
	a, ok := t.agents[agentID]
	if !ok {
		a = &agentHealth{healthy: true, tasks: make([]string, 0)}
		t.agents[agentID] = a
		t.order = append(t.order, agentID)
	}
	return a
}

// SetBackup names the agent that takes over from primary.
func (t *Tolerance) SetBackup(primary, backup string) error {
	if primary == backup {
		return shared.ErrInvalidState.With("agent cannot back itself up", "agentId", primary)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.agents[primary]; !ok {
		return shared.ErrAgentNotFound.With("agent not registered", "agentId", primary)
	}
	t.backups[primary] = backup
	return nil
}

// Backup returns the backup configured for an agent.
func (t *Tolerance) Backup(agentID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b, ok := t.backups[agentID]
	return b, ok
}

// ReportFailure marks the agent unhealthy and records a fault event with the
// chosen action: critical faults escalate; otherwise retry while retries
// remain, then reassign when a backup exists, else escalate. Unknown agents
// are tracked from their first report.
func (t *Tolerance) ReportFailure(agentID, taskID, faultType string) swarm.FaultEvent {
	if faultType == "" {
		faultType = DefaultFaultType
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.ensureLocked(agentID).healthy = false

	key := swarm.FaultKey{AgentID: agentID, TaskID: taskID}
	var action swarm.FaultAction
	_, hasBackup := t.backups[agentID]
	switch {
	case faultType == swarm.FaultTypeCritical:
		action = swarm.FaultEscalate
	case t.retries[key] < t.config.MaxRetries:
		action = swarm.FaultRetry
	case hasBackup:
		action = swarm.FaultReassign
	default:
		action = swarm.FaultEscalate
	}

	event := swarm.NewFaultEvent(agentID, taskID, faultType, action)
	t.events = append(t.events, event)
	t.latest[key] = event

	t.logger.Warn("agent failure reported", "agentId", agentID, "taskId", taskID, "faultType", faultType, "action", action)
	return *event
}

// ReassignTask moves a task away from a failed agent. A healthy backup among
// the candidates wins; otherwise the healthy candidate holding the fewest
// tasks, ties to candidate order. The latest fault event for the (agent,
// task) pair is marked resolved.
func (t *Tolerance) ReassignTask(taskID, failedAgent string, candidates []string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	target := ""
	if backup, ok := t.backups[failedAgent]; ok && shared.ContainsString(candidates, backup) && t.isHealthyLocked(backup) {
		target = backup
	}
	if target == "" {
		best := -1
		for _, id := range candidates {
			if id == failedAgent || !t.isHealthyLocked(id) {
				continue
			}
			if n := len(t.agents[id].tasks); best < 0 || n < best {
				target, best = id, n
			}
		}
	}
	if target == "" {
		return "", shared.ErrNoHealthyCandidate.With("no healthy agent can take the task", "taskId", taskID, "agentId", failedAgent)
	}

	if failed, ok := t.agents[failedAgent]; ok {
		failed.tasks = removeString(failed.tasks, taskID)
	}
	if to := t.agents[target]; !shared.ContainsString(to.tasks, taskID) {
		to.tasks = append(to.tasks, taskID)
	}

	if event, ok := t.latest[swarm.FaultKey{AgentID: failedAgent, TaskID: taskID}]; ok {
		event.Resolved = true
		event.ReassignedTo = target
	}

	t.logger.Info("task reassigned", "taskId", taskID, "from", failedAgent, "to", target)
	return target, nil
}

// RetryTask consumes one retry for the (agent, task) pair. It returns false
// once MaxRetries is exhausted. A granted retry marks the agent healthy.
func (t *Tolerance) RetryTask(agentID, taskID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := swarm.FaultKey{AgentID: agentID, TaskID: taskID}
	t.retries[key]++
	if t.retries[key] > t.config.MaxRetries {
		t.logger.Info("retries exhausted", "agentId", agentID, "taskId", taskID, "maxRetries", t.config.MaxRetries)
		return false
	}
	t.ensureLocked(agentID).healthy = true
	return true
}

// HealAgent restores an agent's health and resolves its open fault events.
func (t *Tolerance) HealAgent(agentID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, ok := t.agents[agentID]
	if !ok {
		return shared.ErrAgentNotFound.With("agent not registered", "agentId", agentID)
	}
	a.healthy = true
	for _, e := range t.events {
		if e.AgentID == agentID && !e.Resolved {
			e.Resolved = true
		}
	}
	t.logger.Info("agent healed", "agentId", agentID)
	return nil
}

// Known reports whether the agent is tracked.
func (t *Tolerance) Known(agentID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.agents[agentID]
	return ok
}

// IsHealthy reports whether the agent is registered and healthy.
func (t *Tolerance) IsHealthy(agentID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.isHealthyLocked(agentID)
}

func (t *Tolerance) isHealthyLocked(agentID string) bool {
	a, ok := t.agents[agentID]
	return ok && a.healthy
}

// HealthyAgents returns healthy agents in registration order.
func (t *Tolerance) HealthyAgents() []string {
	return t.agentsWhere(true)
}

// FailedAgents returns unhealthy agents in registration order.
func (t *Tolerance) FailedAgents() []string {
	return t.agentsWhere(false)
}

func (t *Tolerance) agentsWhere(healthy bool) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]string, 0)
	for _, id := range t.order {
		if t.agents[id].healthy == healthy {
			out = append(out, id)
		}
	}
	return out
}

// Tasks returns the tasks tracked for an agent.
func (t *Tolerance) Tasks(agentID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if a, ok := t.agents[agentID]; ok {
		return shared.CloneStrings(a.tasks)
	}
	return nil
}

// Events returns fault events matching the filter, oldest first.
func (t *Tolerance) Events(filter EventFilter) []swarm.FaultEvent {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]swarm.FaultEvent, 0)
	for _, e := range t.events {
		if filter.matches(e) {
			out = append(out, *e)
		}
	}
	return out
}

// LatestEvent returns the most recent event for an (agent, task) pair.
func (t *Tolerance) LatestEvent(agentID, taskID string) (swarm.FaultEvent, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.latest[swarm.FaultKey{AgentID: agentID, TaskID: taskID}]
	if !ok {
		return swarm.FaultEvent{}, false
	}
	return *e, true
}

// RedundancyCoverage returns the fraction of agents with a backup.
func (t *Tolerance) RedundancyCoverage() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.order) == 0 {
		return 0
	}
	covered := 0
	for _, id := range t.order {
		if _, ok := t.backups[id]; ok {
			covered++
		}
	}
	return float64(covered) / float64(len(t.order))
}

// HealthyRatio returns the fraction of healthy agents, 1.0 without agents.
func (t *Tolerance) HealthyRatio() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.order) == 0 {
		return 1.0
	}
	healthy := 0
	for _, id := range t.order {
		if t.agents[id].healthy {
			healthy++
		}
	}
	return float64(healthy) / float64(len(t.order))
}

// TotalEvents returns the number of recorded fault events.
func (t *Tolerance) TotalEvents() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.events)
}

// UnresolvedCount returns the number of unresolved fault events.
func (t *Tolerance) UnresolvedCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, e := range t.events {
		if !e.Resolved {
			n++
		}
	}
	return n
}

func removeString(list []string, s string) []string {
	for i, v := range list {
		if v == s {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
