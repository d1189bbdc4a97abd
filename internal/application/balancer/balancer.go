// Package balancer provides SwarmLoadBalancer: task assignment across agents,
// bottleneck detection, greedy rebalancing and work stealing.
package balancer

import (
	"log/slog"
	"math"
	"sync"

	"github.com/blackms/swarmkit/internal/domain/swarm"
	"github.com/blackms/swarmkit/internal/shared"
)

// Config holds load balancer settings.
type Config struct {
	Strategy swarm.BalanceStrategy
	// DefaultCapacity applies when an agent registers without one.
	DefaultCapacity float64
	// TasksPerCapacity is the task count that saturates one unit of capacity.
	TasksPerCapacity float64
	// RebalanceMargin is the distance from the mean load that marks an agent
	// as over- or underloaded.
	RebalanceMargin float64
}

// DefaultConfig returns the default load balancer configuration.
func DefaultConfig() Config {
	return Config{
		Strategy:         swarm.BalanceLeastLoaded,
		DefaultCapacity:  1.0,
		TasksPerCapacity: 5,
		RebalanceMargin:  0.2,
	}
}

// WithDefaults replaces an unknown strategy and non-positive settings with
// the defaults.
func (c Config) WithDefaults() Config {
	defaults := DefaultConfig()
	if !c.Strategy.IsValid() {
		c.Strategy = defaults.Strategy
	}
	if c.DefaultCapacity <= 0 {
		c.DefaultCapacity = defaults.DefaultCapacity
	}
	if c.TasksPerCapacity <= 0 {
		c.TasksPerCapacity = defaults.TasksPerCapacity
	}
	if c.RebalanceMargin <= 0 {
		c.RebalanceMargin = defaults.RebalanceMargin
	}
	return c
}

// AgentLoad is a snapshot of one agent's load.
type AgentLoad struct {
	AgentID  string   `json:"agent_id"`
	Capacity float64  `json:"capacity"`
	Load     float64  `json:"load"`
	Tasks    []string `json:"tasks"`
}

// Move records a task transfer between agents.
type Move struct {
	TaskID    string `json:"task_id"`
	FromAgent string `json:"from_agent"`
	ToAgent   string `json:"to_agent"`
}

type agentState struct {
	id       string
	capacity float64
	load     float64
	tasks    []string
}

// Balancer tracks agent capacities and task ownership.
type Balancer struct {
	mu        sync.RWMutex
	config    Config
	logger    *slog.Logger
	agents    map[string]*agentState
	order     []string
	taskOwner map[string]string
}

// New creates a new Balancer.
func New(config Config, logger *slog.Logger) *Balancer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Balancer{
		config:    config.WithDefaults(),
		logger:    logger.With("component", "balancer"),
		agents:    make(map[string]*agentState),
		order:     make([]string, 0),
		taskOwner: make(map[string]string),
	}
}

// Strategy returns the configured assignment strategy.
func (b *Balancer) Strategy() swarm.BalanceStrategy {
	return b.config.Strategy
}

// RegisterAgent adds an agent at zero load. Registering an existing agent
// updates its capacity and keeps its tasks.
func (b *Balancer) RegisterAgent(agentID string, capacity float64) {
	if capacity <= 0 {
		capacity = b.config.DefaultCapacity
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if a, ok := b.agents[agentID]; ok {
		a.capacity = capacity
		b.recompute(a)
		return
	}
	b.agents[agentID] = &agentState{id: agentID, capacity: capacity, tasks: make([]string, 0)}
	b.order = append(b.order, agentID)
}

// UnregisterAgent removes an agent and returns the tasks it held, which are
// no longer owned by anyone.
func (b *Balancer) UnregisterAgent(agentID string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	a, ok := b.agents[agentID]
	if !ok {
		return nil, shared.ErrAgentNotFound.With("agent not registered", "agentId", agentID)
	}
	for _, taskID := range a.tasks {
		delete(b.taskOwner, taskID)
	}
	delete(b.agents, agentID)
	for i, id := range b.order {
		if id == agentID {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	return a.tasks, nil
}

// AssignTask assigns a task to the preferred agent when it is registered,
// otherwise to the agent chosen by the strategy. Ties go to the agent
// registered first.
func (b *Balancer) AssignTask(taskID, preferred string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if owner, ok := b.taskOwner[taskID]; ok {
		return "", shared.ErrTaskAlreadyAssigned.With("task already assigned", "taskId", taskID, "agentId", owner)
	}
	if len(b.order) == 0 {
		return "", shared.ErrNoAgents.With("no agents registered", "taskId", taskID)
	}

	target, ok := b.agents[preferred]
	if !ok {
		target = b.selectLocked()
	}

	b.addTask(target, taskID)
	b.logger.Debug("task assigned", "taskId", taskID, "agentId", target.id, "load", target.load)
	return target.id, nil
}

// selectLocked picks an agent per strategy. Work stealing assigns like least
// loaded and evens out later through StealWork.
func (b *Balancer) selectLocked() *agentState {
	var best *agentState
	for _, id := range b.order {
		a := b.agents[id]
		if best == nil {
			best = a
			continue
		}
		switch b.config.Strategy {
		case swarm.BalanceRoundRobin:
			if len(a.tasks) < len(best.tasks) {
				best = a
			}
		default:
			if a.load < best.load {
				best = a
			}
		}
	}
	return best
}

// CompleteTask removes a finished task from its agent.
func (b *Balancer) CompleteTask(agentID, taskID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	a, ok := b.agents[agentID]
	if !ok {
		return shared.ErrAgentNotFound.With("agent not registered", "agentId", agentID)
	}
	if b.taskOwner[taskID] != agentID {
		return shared.ErrTaskNotFound.With("task not held by agent", "taskId", taskID, "agentId", agentID)
	}
	b.removeTask(a, taskID)
	return nil
}

// Reassign moves a task to another registered agent.
func (b *Balancer) Reassign(taskID, toAgent string) (Move, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	to, ok := b.agents[toAgent]
	if !ok {
		return Move{}, shared.ErrAgentNotFound.With("agent not registered", "agentId", toAgent)
	}
	ownerID, ok := b.taskOwner[taskID]
	if !ok {
		return Move{}, shared.ErrTaskNotFound.With("task not assigned", "taskId", taskID)
	}
	move := Move{TaskID: taskID, FromAgent: ownerID, ToAgent: toAgent}
	if ownerID == toAgent {
		return move, nil
	}
	b.moveLocked(taskID, b.agents[ownerID], to)
	return move, nil
}

// StealWork moves the most recent task of the busiest agent holding more than
// one task to the idle agent.
func (b *Balancer) StealWork(idleAgent string) (Move, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	idle, ok := b.agents[idleAgent]
	if !ok {
		return Move{}, shared.ErrAgentNotFound.With("agent not registered", "agentId", idleAgent)
	}

	var victim *agentState
	for _, id := range b.order {
		a := b.agents[id]
		if id == idleAgent || len(a.tasks) <= 1 {
			continue
		}
		if victim == nil || a.load > victim.load {
			victim = a
		}
	}
	if victim == nil {
		return Move{}, shared.ErrNothingToSteal.With("no agent has spare work", "agentId", idleAgent)
	}

	taskID := victim.tasks[len(victim.tasks)-1]
	b.moveLocked(taskID, victim, idle)
	b.logger.Debug("work stolen", "taskId", taskID, "from", victim.id, "to", idle.id)
	return Move{TaskID: taskID, FromAgent: victim.id, ToAgent: idle.id}, nil
}

// DetectBottlenecks lists agents whose load is at or above threshold, in
// registration order.
func (b *Balancer) DetectBottlenecks(threshold float64) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, 0)
	for _, id := range b.order {
		if b.agents[id].load >= threshold {
			out = append(out, id)
		}
	}
	return out
}

// Rebalance makes one greedy pass: each agent more than the margin above the
// mean load hands its most recent task to the currently least-loaded agent
// more than the margin below the mean.
func (b *Balancer) Rebalance() []Move {
	b.mu.Lock()
	defer b.mu.Unlock()

	moves := make([]Move, 0)
	if len(b.order) < 2 {
		return moves
	}
	mean := b.avgLoadLocked()

	for _, id := range b.order {
		from := b.agents[id]
		if from.load <= mean+b.config.RebalanceMargin || len(from.tasks) == 0 {
			continue
		}

		var to *agentState
		for _, otherID := range b.order {
			other := b.agents[otherID]
			if other.load >= mean-b.config.RebalanceMargin {
				continue
			}
			if to == nil || other.load < to.load {
				to = other
			}
		}
		if to == nil {
			break
		}

		taskID := from.tasks[len(from.tasks)-1]
		b.moveLocked(taskID, from, to)
		moves = append(moves, Move{TaskID: taskID, FromAgent: from.id, ToAgent: to.id})
	}

	if len(moves) > 0 {
		b.logger.Info("rebalanced", "moves", len(moves), "meanLoad", mean)
	}
	return moves
}

// FairnessIndex returns Jain's index over agent loads, 1.0 when there are no
// agents or every load is zero.
func (b *Balancer) FairnessIndex() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := float64(len(b.order))
	if n == 0 {
		return 1.0
	}
	sum, sumSq := 0.0, 0.0
	for _, id := range b.order {
		l := b.agents[id].load
		sum += l
		sumSq += l * l
	}
	if sumSq == 0 {
		return 1.0
	}
	return (sum * sum) / (n * sumSq)
}

// Agent returns a load snapshot of one agent.
func (b *Balancer) Agent(agentID string) (AgentLoad, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	a, ok := b.agents[agentID]
	if !ok {
		return AgentLoad{}, shared.ErrAgentNotFound.With("agent not registered", "agentId", agentID)
	}
	return snapshot(a), nil
}

// Agents returns load snapshots in registration order.
func (b *Balancer) Agents() []AgentLoad {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]AgentLoad, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, snapshot(b.agents[id]))
	}
	return out
}

// LoadDistribution maps each agent to its load.
func (b *Balancer) LoadDistribution() map[string]float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	dist := make(map[string]float64, len(b.agents))
	for id, a := range b.agents {
		dist[id] = a.load
	}
	return dist
}

// AgentTasks returns the tasks held by an agent, oldest first.
func (b *Balancer) AgentTasks(agentID string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if a, ok := b.agents[agentID]; ok {
		return shared.CloneStrings(a.tasks)
	}
	return nil
}

// TaskOwner returns the agent holding a task.
func (b *Balancer) TaskOwner(taskID string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	owner, ok := b.taskOwner[taskID]
	return owner, ok
}

// AvgLoad returns the mean load, 0 without agents.
func (b *Balancer) AvgLoad() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.avgLoadLocked()
}

// TotalTasks returns the number of assigned tasks.
func (b *Balancer) TotalTasks() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.taskOwner)
}

// AgentCount returns the number of registered agents.
func (b *Balancer) AgentCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.order)
}

func (b *Balancer) avgLoadLocked() float64 {
	if len(b.order) == 0 {
		return 0
	}
	sum := 0.0
	for _, id := range b.order {
		sum += b.agents[id].load
	}
	return sum / float64(len(b.order))
}

func (b *Balancer) addTask(a *agentState, taskID string) {
	a.tasks = append(a.tasks, taskID)
	b.taskOwner[taskID] = a.id
	b.recompute(a)
}

func (b *Balancer) removeTask(a *agentState, taskID string) {
	for i, id := range a.tasks {
		if id == taskID {
			a.tasks = append(a.tasks[:i], a.tasks[i+1:]...)
			break
		}
	}
	delete(b.taskOwner, taskID)
	b.recompute(a)
}

func (b *Balancer) moveLocked(taskID string, from, to *agentState) {
	b.removeTask(from, taskID)
	b.addTask(to, taskID)
}

// recompute sets load to min(1, tasks / (capacity * TasksPerCapacity)).
func (b *Balancer) recompute(a *agentState) {
	a.load = math.Min(1, float64(len(a.tasks))/(a.capacity*b.config.TasksPerCapacity))
}

func snapshot(a *agentState) AgentLoad {
	return AgentLoad{
		AgentID:  a.id,
		Capacity: a.capacity,
		Load:     a.load,
		Tasks:    shared.CloneStrings(a.tasks),
	}
}
