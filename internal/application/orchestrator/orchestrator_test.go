package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/blackms/swarmkit/internal/domain/swarm"
	"github.com/blackms/swarmkit/internal/infrastructure/events"
	"github.com/blackms/swarmkit/internal/infrastructure/telemetry"
	"github.com/blackms/swarmkit/internal/shared"
)

func newMission(t *testing.T, o *Orchestrator, agents ...string) MissionResult {
	t.Helper()
	m, err := o.CreateMission(context.Background(), "test", "do things", agents)
	require.NoError(t, err)
	return m
}

func TestOrchestrator_CreateMission(t *testing.T) {
	o := New(DefaultConfig())
	m := newMission(t, o, "a1", "a2", "a3", "a1")

	assert.Equal(t, 3, m.Members)
	assert.Equal(t, []string{"a1", "a2", "a3"}, m.Joined)
	assert.Equal(t, []string{"a1"}, m.Skipped)
	assert.Equal(t, swarm.StateWorking, m.State)

	assert.Equal(t, 3, o.Balancer().AgentCount())
	assert.ElementsMatch(t, []string{"a1", "a2", "a3"}, o.Fault().HealthyAgents())
	assert.Equal(t, 3, o.Auction().Statistics().RegisteredAgents)
}

func TestOrchestrator_CreateMissionBelowMinSizeStaysForming(t *testing.T) {
	o := New(DefaultConfig())
	m := newMission(t, o, "solo")

	assert.Equal(t, 1, m.Members)
	assert.Equal(t, swarm.StateForming, m.State)
}

func TestOrchestrator_AssignTaskLoadBalanced(t *testing.T) {
	o := New(DefaultConfig())
	m := newMission(t, o, "a1", "a2")

	res, err := o.AssignTask(context.Background(), TaskRequest{SwarmID: m.SwarmID, TaskID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, MethodLoadBalance, res.Method)
	assert.Equal(t, "a1", res.AgentID)

	trail := o.Pheromones().MarkersAt("task:t1", swarm.PheromoneTrail)
	require.Len(t, trail, 1)
	assert.Equal(t, "a1", trail[0].SourceAgent)
	assert.InDelta(t, TrailIntensity, trail[0].Intensity, 1e-9)
	assert.Equal(t, []string{"t1"}, o.Fault().Tasks("a1"))

	res, err = o.AssignTask(context.Background(), TaskRequest{SwarmID: m.SwarmID, TaskID: "t2"})
	require.NoError(t, err)
	assert.Equal(t, "a2", res.AgentID)
}

func TestOrchestrator_AssignTaskUnknownOrDissolvedSwarm(t *testing.T) {
	o := New(DefaultConfig())
	ctx := context.Background()

	_, err := o.AssignTask(ctx, TaskRequest{SwarmID: "nonexistent", TaskID: "t1"})
	assert.ErrorIs(t, err, shared.ErrSwarmNotFound)

	m := newMission(t, o, "a1", "a2")
	require.NoError(t, o.DissolveMission(ctx, m.SwarmID))
	_, err = o.AssignTask(ctx, TaskRequest{SwarmID: m.SwarmID, TaskID: "t1"})
	assert.ErrorIs(t, err, shared.ErrSwarmDissolved)
}

func TestOrchestrator_AuctionFlow(t *testing.T) {
	o := New(DefaultConfig())
	ctx := context.Background()
	m := newMission(t, o, "a1", "a2")

	res, err := o.AssignTask(ctx, TaskRequest{SwarmID: m.SwarmID, TaskID: "t1", Description: "index docs", UseAuction: true})
	require.NoError(t, err)
	assert.Equal(t, MethodAuction, res.Method)
	require.NotEmpty(t, res.AuctionID)
	assert.Equal(t, 1, o.Snapshot().ActiveAuctions)

	require.NoError(t, o.Auction().PlaceBid(res.AuctionID, "a1", 0.7))
	require.NoError(t, o.Auction().PlaceBid(res.AuctionID, "a2", 0.9))

	winner, err := o.AwardAuction(ctx, res.AuctionID)
	require.NoError(t, err)
	assert.Equal(t, "a2", winner)

	owner, ok := o.Balancer().TaskOwner("t1")
	require.True(t, ok)
	assert.Equal(t, "a2", owner)
	assert.Len(t, o.Pheromones().MarkersAt("task:t1", swarm.PheromoneTrail), 1)
	assert.Equal(t, 0, o.Snapshot().ActiveAuctions)
}

func TestOrchestrator_AwardAuctionWithoutBids(t *testing.T) {
	o := New(DefaultConfig())
	ctx := context.Background()
	m := newMission(t, o, "a1", "a2")

	res, err := o.AssignTask(ctx, TaskRequest{SwarmID: m.SwarmID, TaskID: "t1", UseAuction: true})
	require.NoError(t, err)

	winner, err := o.AwardAuction(ctx, res.AuctionID)
	require.NoError(t, err)
	assert.Empty(t, winner)
	_, ok := o.Balancer().TaskOwner("t1")
	assert.False(t, ok)
}

func TestOrchestrator_VoteOnDecisionStoresFact(t *testing.T) {
	o := New(DefaultConfig())
	m := newMission(t, o, "a1", "a2", "a3")

	res, err := o.VoteOnDecision(context.Background(), DecisionRequest{
		SwarmID: m.SwarmID,
		Topic:   "strategy",
		Options: []string{"A", "B"},
		Votes:   map[string]string{"a1": "A", "a2": "A", "a3": "B", "a4": "C"},
		Type:    swarm.VoteMajority,
	})
	require.NoError(t, err)
	assert.True(t, res.Resolved)
	assert.Equal(t, "A", res.Winner)
	assert.Equal(t, 3, res.TotalVotes)
	assert.Equal(t, 1, res.Rejected)

	value, confidence, ok := o.Memory().RetrieveWithConfidence("decision:strategy")
	require.True(t, ok)
	assert.InDelta(t, DecisionConfidence, confidence, 1e-9)
	fact, ok := value.AsMap()
	require.True(t, ok)
	assert.Equal(t, "A", fact["winner"].String())
}

func TestOrchestrator_UnresolvedDecisionStoresNothing(t *testing.T) {
	o := New(DefaultConfig())

	res, err := o.VoteOnDecision(context.Background(), DecisionRequest{
		Topic:   "deploy",
		Options: []string{"yes", "no"},
		Votes:   map[string]string{"a1": "yes"},
		Type:    swarm.VoteMajority,
		Quorum:  3,
	})
	require.NoError(t, err)
	assert.False(t, res.Resolved)
	_, ok := o.Memory().Retrieve("decision:deploy")
	assert.False(t, ok)
	assert.Equal(t, 1, o.Snapshot().ActiveVotes)
}

func TestOrchestrator_FaultRecoveryFlow(t *testing.T) {
	o := New(DefaultConfig())
	ctx := context.Background()
	m := newMission(t, o, "a1", "a2", "a3")

	_, err := o.AssignTask(ctx, TaskRequest{SwarmID: m.SwarmID, TaskID: "t1", PreferredAgent: "a1"})
	require.NoError(t, err)

	failure, err := o.HandleFailure(ctx, "a1", "t1", "timeout")
	require.NoError(t, err)
	assert.Equal(t, swarm.FaultRetry, failure.Action)
	assert.Equal(t, "a2", failure.ReassignedTo)

	alarms := o.Pheromones().MarkersAt("agent:a1", swarm.PheromoneAlarm)
	require.Len(t, alarms, 1)
	fault, _ := alarms[0].Payload.AsMap()
	assert.Equal(t, "timeout", fault["fault_type"].String())

	owner, _ := o.Balancer().TaskOwner("t1")
	assert.Equal(t, "a2", owner)
	assert.Less(t, o.Snapshot().HealthScore, 1.0)

	result, err := o.Optimize(ctx)
	require.NoError(t, err)
	assert.Contains(t, result.Healed, "a1")
	assert.True(t, o.Fault().IsHealthy("a1"))
	assert.InDelta(t, 1.0, o.Snapshot().HealthScore, 1e-9)
}

func TestOrchestrator_HandleFailureOutsideSwarm(t *testing.T) {
	o := New(DefaultConfig())

	res, err := o.HandleFailure(context.Background(), "ghost", "", "")
	require.NoError(t, err)
	assert.Equal(t, swarm.FaultRetry, res.Action)
	assert.Empty(t, o.Pheromones().MarkersAt("agent:ghost"))

	latest, ok := o.Fault().LatestEvent("ghost", "")
	require.True(t, ok)
	assert.Equal(t, "unknown", latest.FaultType)
}

func TestOrchestrator_HealAfterTicks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HealPolicy = HealAfterTicks
	cfg.HealAfterTicks = 2
	o := New(cfg)
	ctx := context.Background()
	newMission(t, o, "a1", "a2")

	_, err := o.HandleFailure(ctx, "a1", "", "crash")
	require.NoError(t, err)

	first, err := o.Optimize(ctx)
	require.NoError(t, err)
	assert.Empty(t, first.Healed)

	second, err := o.Optimize(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, second.Healed)
}

func TestOrchestrator_HealNone(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HealPolicy = HealNone
	o := New(cfg)
	ctx := context.Background()
	newMission(t, o, "a1", "a2")

	_, err := o.HandleFailure(ctx, "a1", "", "")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		res, err := o.Optimize(ctx)
		require.NoError(t, err)
		assert.Empty(t, res.Healed)
	}
	assert.Equal(t, []string{"a1"}, o.Fault().FailedAgents())
}

func TestOrchestrator_OptimizeRebalancesAndSyncsFaultTracker(t *testing.T) {
	o := New(DefaultConfig())
	ctx := context.Background()
	m := newMission(t, o, "a1", "a2")

	for _, id := range []string{"t1", "t2", "t3", "t4", "t5"} {
		_, err := o.AssignTask(ctx, TaskRequest{SwarmID: m.SwarmID, TaskID: id, PreferredAgent: "a1"})
		require.NoError(t, err)
	}

	res, err := o.Optimize(ctx)
	require.NoError(t, err)
	require.Len(t, res.Rebalanced, 1)
	assert.Equal(t, "t5", res.Rebalanced[0].TaskID)
	assert.Equal(t, "a2", res.Rebalanced[0].ToAgent)
	assert.Equal(t, []string{"t5"}, o.Fault().Tasks("a2"))
}

func TestOrchestrator_OptimizeDetectsPatterns(t *testing.T) {
	o := New(DefaultConfig())
	for _, agentID := range []string{"a1", "a2", "a3"} {
		o.RecordAction(agentID, "search")
		o.RecordAction(agentID, "analyze")
	}

	res, err := o.Optimize(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, res.Patterns)
}

func TestOrchestrator_OptimizeHonoursCancelledContext(t *testing.T) {
	o := New(DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Optimize(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOrchestrator_ShareKnowledge(t *testing.T) {
	o := New(DefaultConfig())
	ctx := context.Background()

	require.NoError(t, o.ShareKnowledge(ctx, "a1", "market:price", shared.NumberValue(100), 0.9))
	require.NoError(t, o.ShareKnowledge(ctx, "a2", "market:trend", shared.StringValue("up"), 0.8))
	require.NoError(t, o.ShareKnowledge(ctx, "a3", "rumor", shared.StringValue("maybe"), 0.2))

	assert.Len(t, o.CollectiveKnowledge("market"), 2)

	confident := o.CollectiveKnowledge("")
	assert.Len(t, confident, 2)
	assert.NotContains(t, confident, "rumor")

	success := o.Pheromones().MarkersAt("knowledge:market:price", swarm.PheromoneSuccess)
	require.Len(t, success, 1)
	assert.InDelta(t, SuccessIntensity, success[0].Intensity, 1e-9)

	assert.ErrorIs(t, o.ShareKnowledge(ctx, "a1", "", shared.NullValue(), 0.5), shared.ErrInvalidKey)
}

func TestOrchestrator_FullLifecycle(t *testing.T) {
	o := New(DefaultConfig())
	ctx := context.Background()

	snap := o.Snapshot()
	assert.Equal(t, 0, snap.TotalSwarms)
	assert.InDelta(t, 1.0, snap.HealthScore, 1e-9)

	m := newMission(t, o, "a1", "a2", "a3")
	snap = o.Snapshot()
	assert.Equal(t, 1, snap.TotalSwarms)
	assert.Equal(t, 1, snap.ActiveSwarms)
	assert.Equal(t, 3, snap.TotalMembers)

	_, err := o.AssignTask(ctx, TaskRequest{SwarmID: m.SwarmID, TaskID: "t1"})
	require.NoError(t, err)
	snap = o.Snapshot()
	assert.Equal(t, 1, snap.TotalPheromones)
	assert.Greater(t, snap.AvgWorkload, 0.0)

	require.NoError(t, o.DissolveMission(ctx, m.SwarmID))
	require.NoError(t, o.DissolveMission(ctx, m.SwarmID))
	assert.Equal(t, 0, o.Snapshot().ActiveSwarms)
}

func TestOrchestrator_PublishesEvents(t *testing.T) {
	bus := events.New()
	all := bus.SubscribeAll()
	o := New(DefaultConfig(), WithEventBus(bus))
	ctx := context.Background()

	m := newMission(t, o, "a1", "a2")
	_, err := o.AssignTask(ctx, TaskRequest{SwarmID: m.SwarmID, TaskID: "t1"})
	require.NoError(t, err)

	created := <-all.C
	assert.Equal(t, shared.EventMissionCreated, created.Type)
	assert.Equal(t, m.SwarmID, created.Payload["swarmId"].String())

	assigned := <-all.C
	assert.Equal(t, shared.EventTaskAssigned, assigned.Type)
}

func TestOrchestrator_RecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	o := New(DefaultConfig(), WithMetrics(telemetry.NewWithMeter(mp.Meter("test"))))
	ctx := context.Background()

	newMission(t, o, "a1", "a2")
	_, err := o.HandleFailure(ctx, "a1", "", "")
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	names := make(map[string]bool)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = true
		}
	}
	assert.True(t, names["swarmkit.missions"])
	assert.True(t, names["swarmkit.failures"])
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{HealPolicy: "bogus"}.withDefaults()
	assert.Equal(t, HealAll, cfg.HealPolicy)
	assert.Equal(t, 3, cfg.HealAfterTicks)
	assert.True(t, HealAfterTicks.IsValid())

	assert.Equal(t, DefaultConfig(), Config{}.withDefaults())

	partial := Config{HealPolicy: HealNone}.withDefaults()
	assert.Equal(t, HealNone, partial.HealPolicy)
	assert.InDelta(t, 0.1, partial.Pheromone.DecayRate, 1e-9)
	assert.InDelta(t, 0.3, partial.Auction.FairnessWeight, 1e-9)
	assert.Equal(t, 3, partial.Fault.MaxRetries)
}

func TestOrchestrator_ZeroConfigBehavesLikeDefaults(t *testing.T) {
	o := New(Config{})
	ctx := context.Background()
	assert.Equal(t, DefaultConfig(), o.Config())

	o.Pheromones().LeaveMarker("a1", "X", swarm.PheromoneTrail, 1.0, shared.NullValue())
	_, err := o.Optimize(ctx)
	require.NoError(t, err)
	markers := o.Pheromones().MarkersAt("X")
	require.Len(t, markers, 1)
	assert.InDelta(t, 0.9, markers[0].Intensity, 1e-9)

	mission := newMission(t, o, "a1", "a2")
	_, err = o.AssignTask(ctx, TaskRequest{SwarmID: mission.SwarmID, TaskID: "t1", PreferredAgent: "a1"})
	require.NoError(t, err)
	res, err := o.HandleFailure(ctx, "a1", "t1", "timeout")
	require.NoError(t, err)
	assert.Equal(t, swarm.FaultRetry, res.Action)
}

func TestOrchestrator_JoinMissionKeepsFailedAgentFailed(t *testing.T) {
	o := New(DefaultConfig())
	ctx := context.Background()
	first := newMission(t, o, "a1", "a2")
	second := newMission(t, o, "b1", "b2")

	_, err := o.HandleFailure(ctx, "a1", "", "")
	require.NoError(t, err)

	require.NoError(t, o.JoinMission(ctx, second.SwarmID, "a1"))
	assert.False(t, o.Fault().IsHealthy("a1"))

	moved, ok := o.Coordinator().AgentSwarm("a1")
	require.True(t, ok)
	assert.Equal(t, second.SwarmID, moved.ID)

	s, err := o.Coordinator().GetSwarm(first.SwarmID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a2"}, s.Members)

	assert.ErrorIs(t, o.JoinMission(ctx, "missing", "c1"), shared.ErrSwarmNotFound)
}
