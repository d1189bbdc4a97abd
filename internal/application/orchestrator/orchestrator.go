// Package orchestrator composes the swarm subsystems into mission-level
// operations. Subsystems never call each other; the orchestrator applies the
// cross-cutting side effects (markers, facts, events, metrics).
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/blackms/swarmkit/internal/application/auction"
	"github.com/blackms/swarmkit/internal/application/balancer"
	"github.com/blackms/swarmkit/internal/application/coordinator"
	"github.com/blackms/swarmkit/internal/application/emergent"
	"github.com/blackms/swarmkit/internal/application/fault"
	"github.com/blackms/swarmkit/internal/application/memory"
	"github.com/blackms/swarmkit/internal/application/pheromone"
	"github.com/blackms/swarmkit/internal/application/voting"
	"github.com/blackms/swarmkit/internal/domain/swarm"
	"github.com/blackms/swarmkit/internal/infrastructure/events"
	"github.com/blackms/swarmkit/internal/infrastructure/telemetry"
	"github.com/blackms/swarmkit/internal/shared"
)

// Marker intensities and fact confidence used for orchestrator side effects.
const (
	TrailIntensity     = 0.8
	AlarmIntensity     = 1.0
	SuccessIntensity   = 0.6
	DecisionConfidence = 0.9
	// KnowledgeFloor is the confidence CollectiveKnowledge filters by when no
	// pattern is given.
	KnowledgeFloor = 0.5
)

// Orchestrator wires every subsystem together.
type Orchestrator struct {
	config  Config
	logger  *slog.Logger
	bus     *events.EventBus
	metrics *telemetry.Metrics

	coordinator *coordinator.SwarmCoordinator
	pheromones  *pheromone.System
	memory      *memory.CollectiveMemory
	voting      *voting.System
	auction     *auction.TaskAuction
	emergent    *emergent.Detector
	balancer    *balancer.Balancer
	fault       *fault.Tolerance

	// mu guards failedTicks, the heal-after-ticks bookkeeping.
	mu          sync.Mutex
	failedTicks map[string]int
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger shared by every subsystem.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithEventBus sets the bus events are published on.
func WithEventBus(bus *events.EventBus) Option {
	return func(o *Orchestrator) {
		o.bus = bus
	}
}

// WithMetrics sets the metric instruments.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = metrics
	}
}

// New creates an Orchestrator and its subsystems.
func New(config Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		config:      config.withDefaults(),
		failedTicks: make(map[string]int),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.bus == nil {
		o.bus = events.New()
	}
	if o.metrics == nil {
		o.metrics = telemetry.New()
	}

	o.coordinator = coordinator.New(o.config.Swarm, o.logger)
	o.pheromones = pheromone.New(o.config.Pheromone, o.logger)
	o.memory = memory.NewCollectiveMemory(o.logger)
	o.voting = voting.New(o.config.Voting, o.logger)
	o.auction = auction.New(o.config.Auction, o.logger)
	o.emergent = emergent.New(o.config.Emergent, o.logger)
	o.balancer = balancer.New(o.config.Balancer, o.logger)
	o.fault = fault.New(o.config.Fault, o.logger)
	o.logger = o.logger.With("component", "orchestrator")

	o.logger.Info("orchestrator initialized",
		"minSwarmSize", o.config.Swarm.MinSize,
		"maxSwarmSize", o.config.Swarm.MaxSize,
		"votingThreshold", o.config.Voting.DefaultThreshold,
		"decayRate", o.config.Pheromone.DecayRate,
		"fairnessWeight", o.config.Auction.FairnessWeight,
		"maxRetries", o.config.Fault.MaxRetries,
		"healPolicy", o.config.HealPolicy,
	)
	return o
}

// ============================================================================
// Missions
// ============================================================================

// MissionResult describes a newly created mission swarm.
type MissionResult struct {
	SwarmID string      `json:"swarm_id"`
	Name    string      `json:"name"`
	Members int         `json:"members"`
	Joined  []string    `json:"joined"`
	Skipped []string    `json:"skipped,omitempty"`
	State   swarm.State `json:"state"`
}

// CreateMission creates a swarm and joins each agent. Agents that cannot join
// (duplicates, a full swarm) are skipped without failing the mission. Joined
// agents are registered with the balancer, fault tracker and auction house.
// Once the swarm reaches its minimum size the goal is set and it starts
// working.
func (o *Orchestrator) CreateMission(ctx context.Context, name, goal string, agentIDs []string) (MissionResult, error) {
	s := o.coordinator.CreateSwarm(name, goal, 0, 0)

	result := MissionResult{SwarmID: s.ID, Name: name, Joined: make([]string, 0, len(agentIDs))}
	for _, agentID := range agentIDs {
		if err := o.coordinator.Join(s.ID, agentID); err != nil {
			o.logger.Debug("agent skipped", "swarmId", s.ID, "agentId", agentID, "error", err)
			result.Skipped = append(result.Skipped, agentID)
			continue
		}
		o.enlist(agentID)
		result.Joined = append(result.Joined, agentID)
	}
	result.Members = len(result.Joined)

	if result.Members >= s.MinSize {
		if err := o.coordinator.SetGoal(s.ID, goal); err != nil {
			return result, fmt.Errorf("set mission goal: %w", err)
		}
	}

	current, err := o.coordinator.GetSwarm(s.ID)
	if err != nil {
		return result, fmt.Errorf("read mission swarm: %w", err)
	}
	result.State = current.State

	o.bus.EmitMissionCreated(s.ID, name, result.Members)
	o.metrics.MissionCreated(ctx)
	o.logger.Info("mission created", "swarmId", s.ID, "name", name, "members", result.Members, "state", result.State)
	return result, nil
}

// JoinMission adds an agent to an existing mission swarm and registers it
// with the balancer, fault tracker and auction house.
func (o *Orchestrator) JoinMission(ctx context.Context, swarmID, agentID string) error {
	if err := o.coordinator.Join(swarmID, agentID); err != nil {
		return fmt.Errorf("join mission: %w", err)
	}
	o.enlist(agentID)
	return nil
}

// enlist registers a swarm member with the subsystems that schedule work.
// Re-enlisting keeps capacity, health and capabilities as they are.
func (o *Orchestrator) enlist(agentID string) {
	if _, err := o.balancer.Agent(agentID); err != nil {
		o.balancer.RegisterAgent(agentID, 0)
	}
	if !o.fault.Known(agentID) {
		o.fault.RegisterAgent(agentID)
	}
	o.auction.EnsureAgent(agentID)
}

// DissolveMission dissolves the mission's swarm.
func (o *Orchestrator) DissolveMission(ctx context.Context, swarmID string) error {
	if err := o.coordinator.Dissolve(swarmID); err != nil {
		return fmt.Errorf("dissolve mission: %w", err)
	}
	o.bus.EmitMissionDissolved(swarmID)
	return nil
}

// ============================================================================
// Tasks
// ============================================================================

// AssignMethod names how a task was assigned.
type AssignMethod string

const (
	MethodAuction     AssignMethod = "auction"
	MethodLoadBalance AssignMethod = "load_balance"
)

// TaskRequest describes a task to assign within a swarm.
type TaskRequest struct {
	SwarmID              string
	TaskID               string
	Description          string
	UseAuction           bool
	RequiredCapabilities []string
	// PreferredAgent is honoured by the load balancer when registered.
	PreferredAgent string
}

// AssignResult reports how a task was assigned.
type AssignResult struct {
	Method    AssignMethod `json:"method"`
	AuctionID string       `json:"auction_id,omitempty"`
	AgentID   string       `json:"agent_id,omitempty"`
}

// AssignTask either opens an auction for the task, returning its id, or hands
// it to the load balancer and leaves a trail marker at "task:<id>" for the
// assignee.
func (o *Orchestrator) AssignTask(ctx context.Context, req TaskRequest) (AssignResult, error) {
	s, err := o.coordinator.GetSwarm(req.SwarmID)
	if err != nil {
		return AssignResult{}, fmt.Errorf("assign task %s: %w", req.TaskID, err)
	}
	if s.State == swarm.StateDissolved {
		return AssignResult{}, fmt.Errorf("assign task %s: %w", req.TaskID, shared.ErrSwarmDissolved)
	}

	if req.UseAuction {
		a := o.auction.CreateAuction(req.TaskID, req.Description, req.RequiredCapabilities)
		o.bus.EmitAuctionOpened(a.ID, req.TaskID)
		o.bus.EmitTaskAssigned(s.ID, req.TaskID, string(MethodAuction), a.ID)
		o.metrics.TaskAssigned(ctx, string(MethodAuction))
		return AssignResult{Method: MethodAuction, AuctionID: a.ID}, nil
	}

	agentID, err := o.balancer.AssignTask(req.TaskID, req.PreferredAgent)
	if err != nil {
		return AssignResult{}, fmt.Errorf("assign task %s: %w", req.TaskID, err)
	}
	o.placeTask(req.TaskID, agentID)

	o.bus.EmitTaskAssigned(s.ID, req.TaskID, string(MethodLoadBalance), agentID)
	o.metrics.TaskAssigned(ctx, string(MethodLoadBalance))
	return AssignResult{Method: MethodLoadBalance, AgentID: agentID}, nil
}

// AwardAuction closes an auction and, when an agent wins, gives it the task
// through the balancer. An auction without bids is cancelled and returns an
// empty winner.
func (o *Orchestrator) AwardAuction(ctx context.Context, auctionID string) (string, error) {
	winner, err := o.auction.Close(auctionID)
	if err != nil {
		return "", fmt.Errorf("award auction: %w", err)
	}
	if winner == "" {
		return "", nil
	}

	a, err := o.auction.GetAuction(auctionID)
	if err != nil {
		return winner, fmt.Errorf("award auction: %w", err)
	}
	if _, err := o.balancer.Agent(winner); err != nil {
		o.logger.Info("auction winner not balanced", "auctionId", auctionID, "winner", winner)
		return winner, nil
	}
	if _, err := o.balancer.AssignTask(a.TaskID, winner); err != nil {
		return winner, fmt.Errorf("award auction: %w", err)
	}
	o.placeTask(a.TaskID, winner)
	o.metrics.TaskAssigned(ctx, string(MethodAuction))
	return winner, nil
}

// placeTask records ownership with the fault tracker and marks the trail.
func (o *Orchestrator) placeTask(taskID, agentID string) {
	o.fault.TrackTask(agentID, taskID)
	o.pheromones.LeaveMarker(agentID, "task:"+taskID, swarm.PheromoneTrail, TrailIntensity,
		shared.MapValue(map[string]shared.Value{"task_id": shared.StringValue(taskID)}))
}

// ============================================================================
// Decisions
// ============================================================================

// DecisionRequest describes a group vote.
type DecisionRequest struct {
	SwarmID string
	Topic   string
	Options []string
	// Votes maps agent to choice.
	Votes   map[string]string
	Type    swarm.VoteType
	Quorum  int
	Weights map[string]float64
}

// DecisionResult reports a vote outcome.
type DecisionResult struct {
	SessionID  string `json:"session_id"`
	Winner     string `json:"winner"`
	Resolved   bool   `json:"resolved"`
	Vetoed     bool   `json:"vetoed"`
	TotalVotes int    `json:"total_votes"`
	Rejected   int    `json:"rejected_votes"`
}

// VoteOnDecision runs a vote session. Invalid votes are skipped. A resolved
// outcome is stored as the fact "decision:<topic>" holding the winner and the
// votes.
func (o *Orchestrator) VoteOnDecision(ctx context.Context, req DecisionRequest) (DecisionResult, error) {
	session := o.voting.CreateSession(req.Topic, req.Options, req.Type, voting.SessionOptions{
		Quorum:  req.Quorum,
		Weights: req.Weights,
	})

	voters := make([]string, 0, len(req.Votes))
	for agentID := range req.Votes {
		voters = append(voters, agentID)
	}
	sort.Strings(voters)

	result := DecisionResult{SessionID: session.ID}
	for _, agentID := range voters {
		if err := o.voting.CastVote(session.ID, agentID, req.Votes[agentID]); err != nil {
			o.logger.Info("vote rejected", "sessionId", session.ID, "agentId", agentID, "error", err)
			result.Rejected++
			continue
		}
		result.TotalVotes++
	}

	res, err := o.voting.Resolve(session.ID)
	if err != nil {
		return result, fmt.Errorf("resolve decision: %w", err)
	}
	result.Winner, result.Resolved, result.Vetoed = res.Winner, res.Resolved, res.Vetoed

	if res.Resolved {
		votes := make(map[string]shared.Value, len(req.Votes))
		for agentID, choice := range req.Votes {
			votes[agentID] = shared.StringValue(choice)
		}
		fact := shared.MapValue(map[string]shared.Value{
			"winner": shared.StringValue(res.Winner),
			"votes":  shared.MapValue(votes),
		})
		if err := o.memory.Store("decision:"+req.Topic, fact, "", DecisionConfidence); err != nil {
			return result, fmt.Errorf("store decision: %w", err)
		}
	}

	o.bus.EmitDecisionMade(session.ID, req.Topic, res.Winner, res.Resolved)
	o.metrics.DecisionMade(ctx, res.Resolved)
	return result, nil
}

// ============================================================================
// Failures
// ============================================================================

// FailureResult reports how a failure was handled.
type FailureResult struct {
	EventID      string            `json:"event_id"`
	Action       swarm.FaultAction `json:"action"`
	ReassignedTo string            `json:"reassigned_to"`
}

// HandleFailure reports the failure, leaves an alarm marker at
// "agent:<id>" when the agent belongs to a swarm, and moves the task (if any)
// to a healthy agent, keeping the balancer in step.
func (o *Orchestrator) HandleFailure(ctx context.Context, agentID, taskID, faultType string) (FailureResult, error) {
	event := o.fault.ReportFailure(agentID, taskID, faultType)
	result := FailureResult{EventID: event.ID, Action: event.Action}

	if _, ok := o.coordinator.AgentSwarm(agentID); ok {
		o.pheromones.LeaveMarker(agentID, "agent:"+agentID, swarm.PheromoneAlarm, AlarmIntensity,
			shared.MapValue(map[string]shared.Value{"fault_type": shared.StringValue(event.FaultType)}))
	}

	if taskID != "" {
		target, err := o.fault.ReassignTask(taskID, agentID, o.fault.HealthyAgents())
		switch {
		case errors.Is(err, shared.ErrNoHealthyCandidate):
			o.logger.Warn("task left unassigned", "taskId", taskID, "agentId", agentID)
		case err != nil:
			return result, fmt.Errorf("reassign task %s: %w", taskID, err)
		default:
			result.ReassignedTo = target
			if _, err := o.balancer.Reassign(taskID, target); err != nil && !errors.Is(err, shared.ErrTaskNotFound) {
				o.logger.Info("balancer not updated", "taskId", taskID, "agentId", target, "error", err)
			}
		}
	}

	o.bus.EmitAgentFailed(agentID, taskID, string(event.Action), result.ReassignedTo)
	o.metrics.FailureHandled(ctx, string(event.Action))
	return result, nil
}

// ============================================================================
// Knowledge
// ============================================================================

// ShareKnowledge stores a fact and leaves a success marker at
// "knowledge:<key>".
func (o *Orchestrator) ShareKnowledge(ctx context.Context, agentID, key string, value shared.Value, confidence float64) error {
	if err := o.memory.Store(key, value, agentID, confidence); err != nil {
		return fmt.Errorf("share knowledge: %w", err)
	}
	o.pheromones.LeaveMarker(agentID, "knowledge:"+key, swarm.PheromoneSuccess, SuccessIntensity, shared.NullValue())

	o.bus.EmitKnowledgeShared(agentID, key, confidence)
	o.metrics.KnowledgeShared(ctx)
	return nil
}

// CollectiveKnowledge returns facts whose key contains pattern, or every fact
// at or above KnowledgeFloor confidence when pattern is empty.
func (o *Orchestrator) CollectiveKnowledge(pattern string) map[string]shared.Value {
	if pattern != "" {
		return o.memory.Search(pattern)
	}
	return o.memory.HighConfidence(KnowledgeFloor)
}

// RecordAction feeds the emergent behavior detector.
func (o *Orchestrator) RecordAction(agentID, action string) {
	o.emergent.RecordAction(agentID, action)
}

// ============================================================================
// Maintenance
// ============================================================================

// OptimizeResult summarises one maintenance tick.
type OptimizeResult struct {
	Rebalanced     []balancer.Move    `json:"rebalanced"`
	Healed         []string           `json:"healed"`
	DecayedMarkers int                `json:"decayed_markers"`
	Patterns       []emergent.Pattern `json:"patterns"`
}

// Optimize runs one maintenance tick: rebalance, pheromone decay and pattern
// detection run concurrently, then failed agents are healed according to the
// heal policy.
func (o *Orchestrator) Optimize(ctx context.Context) (OptimizeResult, error) {
	start := time.Now()
	var result OptimizeResult

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := gctx.Err(); err != nil {
			return err
		}
		result.Rebalanced = o.balancer.Rebalance()
		return nil
	})
	g.Go(func() error {
		if err := gctx.Err(); err != nil {
			return err
		}
		result.DecayedMarkers = o.pheromones.DecayAll()
		return nil
	})
	g.Go(func() error {
		if err := gctx.Err(); err != nil {
			return err
		}
		result.Patterns = o.emergent.DetectPatterns()
		return nil
	})
	if err := g.Wait(); err != nil {
		return result, fmt.Errorf("optimize: %w", err)
	}

	// Rebalanced tasks change owner in the fault tracker too.
	for _, move := range result.Rebalanced {
		o.fault.TrackTask(move.ToAgent, move.TaskID)
	}

	result.Healed = o.heal()
	for _, agentID := range result.Healed {
		o.bus.EmitAgentHealed(agentID)
	}

	o.bus.EmitOptimized(len(result.Rebalanced), result.DecayedMarkers, len(result.Patterns), len(result.Healed))
	o.metrics.Optimized(ctx, time.Since(start), result.DecayedMarkers, len(result.Healed))
	o.logger.Debug("optimized",
		"rebalanced", len(result.Rebalanced),
		"decayed", result.DecayedMarkers,
		"patterns", len(result.Patterns),
		"healed", len(result.Healed),
	)
	return result, nil
}

// heal applies the heal policy to the currently failed agents.
func (o *Orchestrator) heal() []string {
	failed := o.fault.FailedAgents()
	healed := make([]string, 0)

	o.mu.Lock()
	defer o.mu.Unlock()

	stillFailed := make(map[string]bool, len(failed))
	for _, agentID := range failed {
		stillFailed[agentID] = true

		switch o.config.HealPolicy {
		case HealNone:
			continue
		case HealAfterTicks:
			o.failedTicks[agentID]++
			if o.failedTicks[agentID] < o.config.HealAfterTicks {
				continue
			}
		}

		if err := o.fault.HealAgent(agentID); err != nil {
			o.logger.Warn("heal failed", "agentId", agentID, "error", err)
			continue
		}
		delete(o.failedTicks, agentID)
		healed = append(healed, agentID)
	}

	// Agents that recovered on their own start counting from zero next time.
	for agentID := range o.failedTicks {
		if !stillFailed[agentID] {
			delete(o.failedTicks, agentID)
		}
	}
	return healed
}

// ============================================================================
// Snapshot
// ============================================================================

// Snapshot is a point-in-time summary of the whole system.
type Snapshot struct {
	TotalSwarms     int     `json:"total_swarms"`
	ActiveSwarms    int     `json:"active_swarms"`
	TotalMembers    int     `json:"total_members"`
	ActiveAuctions  int     `json:"active_auctions"`
	ActiveVotes     int     `json:"active_votes"`
	TotalPheromones int     `json:"total_pheromones"`
	FaultEvents     int     `json:"fault_events"`
	AvgWorkload     float64 `json:"avg_workload"`
	HealthScore     float64 `json:"health_score"`
}

// Snapshot summarises the system. Average workload is rounded to three
// decimals. The health score starts at 1.0, loses 0.1
// per unresolved fault (up to 5) once any fault was reported, is scaled by
// the healthy-agent ratio when swarms have members, and is clamped to [0, 1].
func (o *Orchestrator) Snapshot() Snapshot {
	snap := Snapshot{
		TotalSwarms:     o.coordinator.SwarmCount(),
		ActiveSwarms:    o.coordinator.ActiveSwarmCount(),
		TotalMembers:    o.coordinator.TotalMembers(),
		ActiveAuctions:  o.auction.OpenAuctionCount(),
		ActiveVotes:     o.voting.ActiveSessions(),
		TotalPheromones: o.pheromones.TotalMarkers(),
		FaultEvents:     o.fault.TotalEvents(),
		AvgWorkload:     math.Round(o.balancer.AvgLoad()*1000) / 1000,
	}

	health := 1.0
	if snap.FaultEvents > 0 {
		unresolved := o.fault.UnresolvedCount()
		if unresolved > 5 {
			unresolved = 5
		}
		health -= 0.1 * float64(unresolved)
	}
	if snap.TotalMembers > 0 {
		health *= o.fault.HealthyRatio()
	}
	snap.HealthScore = shared.ClampUnit(health)
	return snap
}

// ============================================================================
// Subsystem access
// ============================================================================

// Coordinator returns the swarm coordinator.
func (o *Orchestrator) Coordinator() *coordinator.SwarmCoordinator { return o.coordinator }

// Pheromones returns the pheromone system.
func (o *Orchestrator) Pheromones() *pheromone.System { return o.pheromones }

// Memory returns the collective memory.
func (o *Orchestrator) Memory() *memory.CollectiveMemory { return o.memory }

// Voting returns the voting system.
func (o *Orchestrator) Voting() *voting.System { return o.voting }

// Auction returns the task auction.
func (o *Orchestrator) Auction() *auction.TaskAuction { return o.auction }

// Emergent returns the emergent behavior detector.
func (o *Orchestrator) Emergent() *emergent.Detector { return o.emergent }

// Balancer returns the load balancer.
func (o *Orchestrator) Balancer() *balancer.Balancer { return o.balancer }

// Fault returns the fault tolerance tracker.
func (o *Orchestrator) Fault() *fault.Tolerance { return o.fault }

// Events returns the event bus.
func (o *Orchestrator) Events() *events.EventBus { return o.bus }

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config { return o.config }

// Logger returns the orchestrator's logger.
func (o *Orchestrator) Logger() *slog.Logger { return o.logger }
