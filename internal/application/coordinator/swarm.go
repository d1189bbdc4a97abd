// Package coordinator provides the SwarmCoordinator: swarm lifecycle,
// membership, leadership and goal distribution.
package coordinator

import (
	"log/slog"
	"sync"

	"github.com/blackms/swarmkit/internal/domain/swarm"
	"github.com/blackms/swarmkit/internal/shared"
)

// Config holds sizing defaults for new swarms.
type Config struct {
	MinSize int
	MaxSize int
}

// DefaultConfig returns the default coordinator configuration.
func DefaultConfig() Config {
	return Config{MinSize: 2, MaxSize: 20}
}

// WithDefaults replaces non-positive sizes with the defaults.
func (c Config) WithDefaults() Config {
	defaults := DefaultConfig()
	if c.MinSize <= 0 {
		c.MinSize = defaults.MinSize
	}
	if c.MaxSize <= 0 {
		c.MaxSize = defaults.MaxSize
	}
	return c
}

// SwarmCoordinator owns the swarm registry.
type SwarmCoordinator struct {
	mu     sync.RWMutex
	config Config
	logger *slog.Logger
	swarms map[string]*swarm.Swarm
	order  []string
	// agentSwarm maps an agent to the swarm it currently belongs to.
	agentSwarm map[string]string
}

// New creates a new SwarmCoordinator.
func New(config Config, logger *slog.Logger) *SwarmCoordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &SwarmCoordinator{
		config:     config.WithDefaults(),
		logger:     logger.With("component", "coordinator"),
		swarms:     make(map[string]*swarm.Swarm),
		order:      make([]string, 0),
		agentSwarm: make(map[string]string),
	}
}

// CreateSwarm creates a swarm in the forming state. Non-positive sizes fall
// back to the configured defaults.
func (sc *SwarmCoordinator) CreateSwarm(name, goal string, minSize, maxSize int) swarm.Swarm {
	if minSize <= 0 {
		minSize = sc.config.MinSize
	}
	if maxSize <= 0 {
		maxSize = sc.config.MaxSize
	}
	if maxSize < minSize {
		maxSize = minSize
	}

	s := swarm.NewSwarm(name, goal, minSize, maxSize)

	sc.mu.Lock()
	sc.swarms[s.ID] = s
	sc.order = append(sc.order, s.ID)
	sc.mu.Unlock()

	sc.logger.Debug("swarm created", "swarmId", s.ID, "name", name, "min", minSize, "max", maxSize)
	return s.Clone()
}

// Join adds an agent to a swarm. An agent belongs to at most one swarm, so
// joining a new one first leaves the previous swarm.
func (sc *SwarmCoordinator) Join(swarmID, agentID string) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	s, ok := sc.swarms[swarmID]
	if !ok {
		return shared.ErrSwarmNotFound.With("swarm not found", "swarmId", swarmID)
	}
	if s.State.IsTerminal() {
		return shared.ErrSwarmDissolved.With("swarm is dissolved", "swarmId", swarmID)
	}
	if s.HasMember(agentID) {
		return shared.ErrAlreadyMember.With("agent already in swarm", "swarmId", swarmID, "agentId", agentID)
	}
	if s.IsFull() {
		sc.logger.Info("join rejected: swarm full", "swarmId", swarmID, "agentId", agentID)
		return shared.ErrSwarmFull.With("swarm at capacity", "swarmId", swarmID)
	}

	if prevID, ok := sc.agentSwarm[agentID]; ok && prevID != swarmID {
		if prev, ok := sc.swarms[prevID]; ok {
			prev.RemoveMember(agentID)
			sc.logger.Debug("agent left previous swarm", "swarmId", prevID, "agentId", agentID)
		}
	}

	before := s.State
	s.AddMember(agentID)
	sc.agentSwarm[agentID] = swarmID

	if before != s.State {
		sc.logger.Debug("swarm state changed", "swarmId", swarmID, "from", before, "to", s.State)
	}
	return nil
}

// Leave removes an agent from a swarm.
func (sc *SwarmCoordinator) Leave(swarmID, agentID string) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	s, ok := sc.swarms[swarmID]
	if !ok {
		return shared.ErrSwarmNotFound.With("swarm not found", "swarmId", swarmID)
	}
	if !s.RemoveMember(agentID) {
		return shared.ErrNotMember.With("agent not in swarm", "swarmId", swarmID, "agentId", agentID)
	}
	if sc.agentSwarm[agentID] == swarmID {
		delete(sc.agentSwarm, agentID)
	}
	return nil
}

// SetGoal replaces the goal; an active swarm starts working.
func (sc *SwarmCoordinator) SetGoal(swarmID, goal string) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	s, ok := sc.swarms[swarmID]
	if !ok {
		return shared.ErrSwarmNotFound.With("swarm not found", "swarmId", swarmID)
	}
	if s.State.IsTerminal() {
		return shared.ErrSwarmDissolved.With("swarm is dissolved", "swarmId", swarmID)
	}

	s.Goal = goal
	if s.State == swarm.StateActive {
		s.State = swarm.StateWorking
	}
	return nil
}

// BeginConvergence moves a working swarm into the converging state.
func (sc *SwarmCoordinator) BeginConvergence(swarmID string) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	s, ok := sc.swarms[swarmID]
	if !ok {
		return shared.ErrSwarmNotFound.With("swarm not found", "swarmId", swarmID)
	}
	if s.State != swarm.StateWorking {
		return shared.ErrInvalidState.With("only working swarms can converge", "swarmId", swarmID, "state", string(s.State))
	}
	s.State = swarm.StateConverging
	return nil
}

// ElectLeader makes a member the leader.
func (sc *SwarmCoordinator) ElectLeader(swarmID, agentID string) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	s, ok := sc.swarms[swarmID]
	if !ok {
		return shared.ErrSwarmNotFound.With("swarm not found", "swarmId", swarmID)
	}
	if !s.HasMember(agentID) {
		return shared.ErrNotMember.With("leader must be a member", "swarmId", swarmID, "agentId", agentID)
	}
	s.LeaderID = agentID
	return nil
}

// Dissolve clears the swarm. Dissolving twice is a no-op.
func (sc *SwarmCoordinator) Dissolve(swarmID string) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	s, ok := sc.swarms[swarmID]
	if !ok {
		return shared.ErrSwarmNotFound.With("swarm not found", "swarmId", swarmID)
	}
	for _, agentID := range s.Members {
		if sc.agentSwarm[agentID] == swarmID {
			delete(sc.agentSwarm, agentID)
		}
	}
	s.Dissolve()
	sc.logger.Debug("swarm dissolved", "swarmId", swarmID)
	return nil
}

// DistributeGoal fans sub-goals out round-robin: sub-goal i goes to member
// i mod len(members).
func (sc *SwarmCoordinator) DistributeGoal(swarmID string, subGoals []string) (map[string][]string, error) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	s, ok := sc.swarms[swarmID]
	if !ok {
		return nil, shared.ErrSwarmNotFound.With("swarm not found", "swarmId", swarmID)
	}

	distribution := make(map[string][]string)
	if len(s.Members) == 0 {
		return distribution, nil
	}
	for i, goal := range subGoals {
		agentID := s.Members[i%len(s.Members)]
		distribution[agentID] = append(distribution[agentID], goal)
	}
	return distribution, nil
}

// GetSwarm returns a swarm snapshot.
func (sc *SwarmCoordinator) GetSwarm(swarmID string) (swarm.Swarm, error) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	s, ok := sc.swarms[swarmID]
	if !ok {
		return swarm.Swarm{}, shared.ErrSwarmNotFound.With("swarm not found", "swarmId", swarmID)
	}
	return s.Clone(), nil
}

// AgentSwarm returns the swarm the agent currently belongs to.
func (sc *SwarmCoordinator) AgentSwarm(agentID string) (swarm.Swarm, bool) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	swarmID, ok := sc.agentSwarm[agentID]
	if !ok {
		return swarm.Swarm{}, false
	}
	return sc.swarms[swarmID].Clone(), true
}

// ListSwarms returns all swarms in creation order.
func (sc *SwarmCoordinator) ListSwarms() []swarm.Swarm {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	swarms := make([]swarm.Swarm, 0, len(sc.order))
	for _, id := range sc.order {
		swarms = append(swarms, sc.swarms[id].Clone())
	}
	return swarms
}

// SwarmCount returns the number of swarms ever created.
func (sc *SwarmCoordinator) SwarmCount() int {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return len(sc.swarms)
}

// ActiveSwarmCount returns the number of live (formed, not dissolved) swarms.
func (sc *SwarmCoordinator) ActiveSwarmCount() int {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	count := 0
	for _, s := range sc.swarms {
		if s.State.IsLive() {
			count++
		}
	}
	return count
}

// TotalMembers returns the number of agents across all swarms.
func (sc *SwarmCoordinator) TotalMembers() int {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	total := 0
	for _, s := range sc.swarms {
		total += len(s.Members)
	}
	return total
}
