// Package swarmkit provides the public API for swarm coordination.
//
// This package wraps the orchestrator that ties together swarm membership,
// pheromone markers, collective memory, voting, task auctions, load
// balancing, fault tolerance and emergent behavior detection.
//
// Example:
//
//	kit := swarmkit.New(swarmkit.DefaultConfig())
//	mission, err := kit.CreateMission(ctx, "research", "map the market", []string{"a1", "a2", "a3"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	res, err := kit.AssignTask(ctx, swarmkit.TaskRequest{
//	    SwarmID: mission.SwarmID,
//	    TaskID:  "t1",
//	})
package swarmkit

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/blackms/swarmkit/internal/application/auction"
	"github.com/blackms/swarmkit/internal/application/balancer"
	"github.com/blackms/swarmkit/internal/application/emergent"
	"github.com/blackms/swarmkit/internal/application/fault"
	"github.com/blackms/swarmkit/internal/application/memory"
	"github.com/blackms/swarmkit/internal/application/orchestrator"
	"github.com/blackms/swarmkit/internal/application/voting"
	"github.com/blackms/swarmkit/internal/config"
	"github.com/blackms/swarmkit/internal/domain/swarm"
	"github.com/blackms/swarmkit/internal/infrastructure/events"
	"github.com/blackms/swarmkit/internal/infrastructure/telemetry"
	"github.com/blackms/swarmkit/internal/infrastructure/worker"
	"github.com/blackms/swarmkit/internal/shared"
)

// Re-export types for public API
type (
	// Domain types
	Swarm           = swarm.Swarm
	State           = swarm.State
	Marker          = swarm.Marker
	PheromoneType   = swarm.PheromoneType
	Fact            = swarm.Fact
	Session         = swarm.Session
	VoteType        = swarm.VoteType
	Auction         = swarm.Auction
	AuctionState    = swarm.AuctionState
	FaultEvent      = swarm.FaultEvent
	FaultAction     = swarm.FaultAction
	BalanceStrategy = swarm.BalanceStrategy

	// Values and errors
	Value      = shared.Value
	SwarmError = shared.SwarmError
	Event      = shared.Event
	EventType  = shared.EventType

	// Orchestrator types
	Config          = orchestrator.Config
	HealPolicy      = orchestrator.HealPolicy
	MissionResult   = orchestrator.MissionResult
	TaskRequest     = orchestrator.TaskRequest
	AssignResult    = orchestrator.AssignResult
	DecisionRequest = orchestrator.DecisionRequest
	DecisionResult  = orchestrator.DecisionResult
	FailureResult   = orchestrator.FailureResult
	OptimizeResult  = orchestrator.OptimizeResult
	Snapshot        = orchestrator.Snapshot

	// Subsystem types
	MergeStrategy     = memory.MergeStrategy
	SessionOptions    = voting.SessionOptions
	VoteResults       = voting.Results
	AuctionStatistics = auction.Statistics
	AgentLoad         = balancer.AgentLoad
	Move              = balancer.Move
	Pattern           = emergent.Pattern
	Pair              = emergent.Pair
	Synergy           = emergent.Synergy
	EventFilter       = fault.EventFilter

	// Event subscription
	EventBus     = events.EventBus
	Subscription = events.Subscription
	EventHandler = events.Handler
)

// Re-export constants
const (
	StateForming    = swarm.StateForming
	StateActive     = swarm.StateActive
	StateWorking    = swarm.StateWorking
	StateConverging = swarm.StateConverging
	StateDissolved  = swarm.StateDissolved

	PheromoneAttraction = swarm.PheromoneAttraction
	PheromoneRepulsion  = swarm.PheromoneRepulsion
	PheromoneTrail      = swarm.PheromoneTrail
	PheromoneAlarm      = swarm.PheromoneAlarm
	PheromoneSuccess    = swarm.PheromoneSuccess

	VoteMajority  = swarm.VoteMajority
	VoteUnanimous = swarm.VoteUnanimous
	VoteWeighted  = swarm.VoteWeighted
	VoteQuorum    = swarm.VoteQuorum

	BalanceLeastLoaded  = swarm.BalanceLeastLoaded
	BalanceRoundRobin   = swarm.BalanceRoundRobin
	BalanceWorkStealing = swarm.BalanceWorkStealing

	HealAll        = orchestrator.HealAll
	HealAfterTicks = orchestrator.HealAfterTicks
	HealNone       = orchestrator.HealNone

	MergeOverwrite        = memory.MergeOverwrite
	MergeHigherConfidence = memory.MergeHigherConfidence

	// AllEvents subscribes to every event type.
	AllEvents = events.Wildcard
)

// Re-export sentinel errors for errors.Is checks.
var (
	ErrSwarmNotFound      = shared.ErrSwarmNotFound
	ErrSwarmFull          = shared.ErrSwarmFull
	ErrSwarmDissolved     = shared.ErrSwarmDissolved
	ErrAlreadyMember      = shared.ErrAlreadyMember
	ErrSessionResolved    = shared.ErrSessionResolved
	ErrInvalidChoice      = shared.ErrInvalidChoice
	ErrAuctionClosed      = shared.ErrAuctionClosed
	ErrMissingCapability  = shared.ErrMissingCapability
	ErrNoAgents           = shared.ErrNoAgents
	ErrNothingToSteal     = shared.ErrNothingToSteal
	ErrNoHealthyCandidate = shared.ErrNoHealthyCandidate
)

// Value constructors
var (
	StringValue = shared.StringValue
	NumberValue = shared.NumberValue
	BoolValue   = shared.BoolValue
	MapValue    = shared.MapValue
	NullValue   = shared.NullValue
	FromAny     = shared.FromAny
)

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return orchestrator.DefaultConfig()
}

// LoadConfig loads configuration from the user and project config files and
// SWARMKIT_ environment variables. A non-empty path loads that file instead.
// The returned logger writes to logOutput with the configured level and
// format.
func LoadConfig(path string, logOutput io.Writer) (Config, *slog.Logger, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFromPath(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return Config{}, nil, err
	}
	return cfg.Orchestrator(), cfg.NewLogger(logOutput), nil
}

// Kit wraps the internal orchestrator for public use.
type Kit struct {
	internal *orchestrator.Orchestrator
}

// Option configures a Kit.
type Option = orchestrator.Option

// WithLogger sets the logger used by every subsystem.
func WithLogger(logger *slog.Logger) Option {
	return orchestrator.WithLogger(logger)
}

// WithEventBus publishes events on the given bus.
func WithEventBus(bus *EventBus) Option {
	return orchestrator.WithEventBus(bus)
}

// WithGlobalMetrics records metrics through the global OpenTelemetry meter
// provider.
func WithGlobalMetrics() Option {
	return orchestrator.WithMetrics(telemetry.New())
}

// NewEventBus creates an event bus for WithEventBus.
func NewEventBus() *EventBus {
	return events.New()
}

// New creates a Kit.
func New(config Config, opts ...Option) *Kit {
	return &Kit{internal: orchestrator.New(config, opts...)}
}

// CreateMission creates a swarm for the agents and starts it working once
// it reaches its minimum size.
func (k *Kit) CreateMission(ctx context.Context, name, goal string, agentIDs []string) (MissionResult, error) {
	return k.internal.CreateMission(ctx, name, goal, agentIDs)
}

// DissolveMission dissolves a mission swarm.
func (k *Kit) DissolveMission(ctx context.Context, swarmID string) error {
	return k.internal.DissolveMission(ctx, swarmID)
}

// JoinMission adds an agent to an existing mission swarm.
func (k *Kit) JoinMission(ctx context.Context, swarmID, agentID string) error {
	return k.internal.JoinMission(ctx, swarmID, agentID)
}

// LeaveSwarm removes an agent from a swarm.
func (k *Kit) LeaveSwarm(swarmID, agentID string) error {
	return k.internal.Coordinator().Leave(swarmID, agentID)
}

// GetSwarm returns a swarm snapshot.
func (k *Kit) GetSwarm(swarmID string) (Swarm, error) {
	return k.internal.Coordinator().GetSwarm(swarmID)
}

// ListSwarms returns every swarm in creation order.
func (k *Kit) ListSwarms() []Swarm {
	return k.internal.Coordinator().ListSwarms()
}

// AssignTask assigns a task by auction or load balancing.
func (k *Kit) AssignTask(ctx context.Context, req TaskRequest) (AssignResult, error) {
	return k.internal.AssignTask(ctx, req)
}

// RegisterCapabilities records the capabilities an agent can bid with.
func (k *Kit) RegisterCapabilities(agentID string, capabilities []string) {
	k.internal.Auction().RegisterAgent(agentID, capabilities)
}

// PlaceBid places a bid on an open auction.
func (k *Kit) PlaceBid(auctionID, agentID string, score float64) error {
	return k.internal.Auction().PlaceBid(auctionID, agentID, score)
}

// AwardAuction closes an auction and hands the task to the winner.
func (k *Kit) AwardAuction(ctx context.Context, auctionID string) (string, error) {
	return k.internal.AwardAuction(ctx, auctionID)
}

// CompleteTask marks a balanced task as done.
func (k *Kit) CompleteTask(agentID, taskID string) error {
	return k.internal.Balancer().CompleteTask(agentID, taskID)
}

// VoteOnDecision runs a vote and stores a resolved outcome as a fact.
func (k *Kit) VoteOnDecision(ctx context.Context, req DecisionRequest) (DecisionResult, error) {
	return k.internal.VoteOnDecision(ctx, req)
}

// GrantVeto lets an agent veto sessions.
func (k *Kit) GrantVeto(agentID string) {
	k.internal.Voting().GrantVeto(agentID)
}

// HandleFailure reports an agent failure and moves its task if possible.
func (k *Kit) HandleFailure(ctx context.Context, agentID, taskID, faultType string) (FailureResult, error) {
	return k.internal.HandleFailure(ctx, agentID, taskID, faultType)
}

// SetBackup names the agent that takes over from primary.
func (k *Kit) SetBackup(primary, backup string) error {
	return k.internal.Fault().SetBackup(primary, backup)
}

// FaultEvents returns fault events matching the filter.
func (k *Kit) FaultEvents(filter EventFilter) []FaultEvent {
	return k.internal.Fault().Events(filter)
}

// ShareKnowledge stores a fact in collective memory.
func (k *Kit) ShareKnowledge(ctx context.Context, agentID, key string, value Value, confidence float64) error {
	return k.internal.ShareKnowledge(ctx, agentID, key, value, confidence)
}

// CollectiveKnowledge returns facts matching pattern, or every confident
// fact when pattern is empty.
func (k *Kit) CollectiveKnowledge(pattern string) map[string]Value {
	return k.internal.CollectiveKnowledge(pattern)
}

// MergeKnowledge merges facts from another source.
func (k *Kit) MergeKnowledge(incoming map[string]Value, agentID string, strategy MergeStrategy) int {
	return k.internal.Memory().Merge(incoming, agentID, strategy)
}

// LeaveMarker deposits a pheromone marker.
func (k *Kit) LeaveMarker(agentID, location string, ptype PheromoneType, intensity float64, payload Value) Marker {
	return k.internal.Pheromones().LeaveMarker(agentID, location, ptype, intensity, payload)
}

// MarkersAt returns markers at a location, optionally filtered by type.
func (k *Kit) MarkersAt(location string, types ...PheromoneType) []Marker {
	return k.internal.Pheromones().MarkersAt(location, types...)
}

// RecordAction records an agent action for pattern detection.
func (k *Kit) RecordAction(agentID, action string) {
	k.internal.RecordAction(agentID, action)
}

// DetectSynergy compares joint outcomes with the sum of individual ones.
func (k *Kit) DetectSynergy(pairs []Pair, outcomes map[string]float64) []Synergy {
	return k.internal.Emergent().DetectSynergy(pairs, outcomes)
}

// Optimize runs one maintenance tick.
func (k *Kit) Optimize(ctx context.Context) (OptimizeResult, error) {
	return k.internal.Optimize(ctx)
}

// MaintenanceStats summarizes a Maintain loop.
type MaintenanceStats = worker.Stats

// Maintain runs Optimize every interval until ticks passes have completed
// or ctx ends. A ticks value of zero runs until ctx ends.
func (k *Kit) Maintain(ctx context.Context, interval time.Duration, ticks int) (MaintenanceStats, error) {
	runner := worker.NewRunner(func(ctx context.Context) error {
		_, err := k.internal.Optimize(ctx)
		return err
	}, worker.RunnerConfig{Interval: interval, MaxRuns: ticks}, k.internal.Logger())

	err := runner.Run(ctx)
	return runner.Stats(), err
}

// Snapshot returns a point-in-time summary.
func (k *Kit) Snapshot() Snapshot {
	return k.internal.Snapshot()
}

// Subscribe returns a channel of events of one type.
func (k *Kit) Subscribe(eventType EventType) Subscription {
	return k.internal.Events().Subscribe(eventType)
}

// On registers a synchronous event handler.
func (k *Kit) On(eventType EventType, handler EventHandler) {
	k.internal.Events().On(eventType, handler)
}

// Internal returns the internal orchestrator (for advanced usage).
func (k *Kit) Internal() *orchestrator.Orchestrator {
	return k.internal
}
