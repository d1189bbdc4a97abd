package swarmkit

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKit_MissionLifecycle(t *testing.T) {
	bus := NewEventBus()
	var seen []EventType
	bus.On(AllEvents, func(e Event) { seen = append(seen, e.Type) })

	kit := New(DefaultConfig(), WithEventBus(bus))
	ctx := context.Background()

	mission, err := kit.CreateMission(ctx, "research", "map the market", []string{"a1", "a2", "a3"})
	require.NoError(t, err)
	assert.Equal(t, StateWorking, mission.State)

	kit.RegisterCapabilities("a1", []string{"search"})
	res, err := kit.AssignTask(ctx, TaskRequest{
		SwarmID:              mission.SwarmID,
		TaskID:               "t1",
		UseAuction:           true,
		RequiredCapabilities: []string{"search"},
	})
	require.NoError(t, err)

	err = kit.PlaceBid(res.AuctionID, "a2", 0.9)
	assert.True(t, errors.Is(err, ErrMissingCapability))
	require.NoError(t, kit.PlaceBid(res.AuctionID, "a1", 0.5))

	winner, err := kit.AwardAuction(ctx, res.AuctionID)
	require.NoError(t, err)
	assert.Equal(t, "a1", winner)
	require.NoError(t, kit.CompleteTask("a1", "t1"))

	require.NoError(t, kit.ShareKnowledge(ctx, "a1", "market:price", NumberValue(42), 0.9))
	assert.Len(t, kit.CollectiveKnowledge("market"), 1)

	require.NoError(t, kit.DissolveMission(ctx, mission.SwarmID))
	assert.Equal(t, 0, kit.Snapshot().ActiveSwarms)

	assert.Contains(t, seen, EventType("mission:created"))
	assert.Contains(t, seen, EventType("mission:dissolved"))
}

func TestKit_JoinAndLeave(t *testing.T) {
	kit := New(DefaultConfig())
	ctx := context.Background()

	mission, err := kit.CreateMission(ctx, "pair", "", []string{"a1"})
	require.NoError(t, err)
	assert.Equal(t, StateForming, mission.State)

	require.NoError(t, kit.JoinMission(ctx, mission.SwarmID, "a2"))
	s, err := kit.GetSwarm(mission.SwarmID)
	require.NoError(t, err)
	assert.Equal(t, StateActive, s.State)
	assert.Len(t, kit.ListSwarms(), 1)

	require.NoError(t, kit.LeaveSwarm(mission.SwarmID, "a2"))
	s, _ = kit.GetSwarm(mission.SwarmID)
	assert.Equal(t, StateForming, s.State)
}

func TestKit_FailureWithBackup(t *testing.T) {
	kit := New(DefaultConfig())
	ctx := context.Background()

	mission, err := kit.CreateMission(ctx, "ops", "", []string{"a1", "a2", "a3"})
	require.NoError(t, err)
	require.NoError(t, kit.SetBackup("a1", "a3"))

	_, err = kit.AssignTask(ctx, TaskRequest{SwarmID: mission.SwarmID, TaskID: "t1", PreferredAgent: "a1"})
	require.NoError(t, err)

	res, err := kit.HandleFailure(ctx, "a1", "t1", "timeout")
	require.NoError(t, err)
	assert.Equal(t, "a3", res.ReassignedTo)
	assert.Len(t, kit.MarkersAt("agent:a1", PheromoneAlarm), 1)
	assert.Len(t, kit.FaultEvents(EventFilter{AgentID: "a1"}), 1)
}

func TestKit_QuorumDecision(t *testing.T) {
	kit := New(DefaultConfig())
	ctx := context.Background()

	req := DecisionRequest{
		Topic:   "deploy",
		Options: []string{"now", "later"},
		Votes:   map[string]string{"a1": "now", "a2": "now"},
		Type:    VoteQuorum,
		Quorum:  3,
	}
	res, err := kit.VoteOnDecision(ctx, req)
	require.NoError(t, err)
	assert.False(t, res.Resolved)

	req.Votes["a3"] = "later"
	res, err = kit.VoteOnDecision(ctx, req)
	require.NoError(t, err)
	assert.True(t, res.Resolved)
	assert.Equal(t, "now", res.Winner)
	assert.Contains(t, kit.CollectiveKnowledge("decision:"), "decision:deploy")
}

func TestKit_Maintain(t *testing.T) {
	kit := New(DefaultConfig())
	ctx := context.Background()

	mission, err := kit.CreateMission(ctx, "ops", "", []string{"a1", "a2"})
	require.NoError(t, err)
	_, err = kit.AssignTask(ctx, TaskRequest{SwarmID: mission.SwarmID, TaskID: "t1", PreferredAgent: "a1"})
	require.NoError(t, err)
	_, err = kit.HandleFailure(ctx, "a1", "t1", "crash")
	require.NoError(t, err)

	stats, err := kit.Maintain(ctx, time.Millisecond, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.Completed)
	assert.InDelta(t, 1.0, kit.Snapshot().HealthScore, 1e-9)
}

func TestKit_MaintainStopsOnCancel(t *testing.T) {
	kit := New(DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats, err := kit.Maintain(ctx, time.Hour, 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, stats.Total)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("swarm:\n  min_size: 1\nlog:\n  level: debug\n"), 0o644))

	var logs bytes.Buffer
	cfg, logger, err := LoadConfig(path, &logs)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Swarm.MinSize)

	kit := New(cfg, WithLogger(logger))
	mission, err := kit.CreateMission(context.Background(), "solo", "", []string{"a1"})
	require.NoError(t, err)
	assert.Equal(t, StateWorking, mission.State)
	assert.Contains(t, logs.String(), "mission created")
}
