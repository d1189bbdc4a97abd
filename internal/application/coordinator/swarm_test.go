package coordinator

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackms/swarmkit/internal/domain/swarm"
	"github.com/blackms/swarmkit/internal/shared"
)

func newCoordinator() *SwarmCoordinator {
	return New(DefaultConfig(), nil)
}

func TestSwarmCoordinator_JoinReachesMinSize(t *testing.T) {
	sc := newCoordinator()
	s := sc.CreateSwarm("scouts", "explore", 2, 5)
	require.Equal(t, swarm.StateForming, s.State)

	require.NoError(t, sc.Join(s.ID, "a1"))
	got, err := sc.GetSwarm(s.ID)
	require.NoError(t, err)
	assert.Equal(t, swarm.StateForming, got.State)

	require.NoError(t, sc.Join(s.ID, "a2"))
	got, _ = sc.GetSwarm(s.ID)
	assert.Equal(t, swarm.StateActive, got.State)
	assert.Equal(t, "a1", got.LeaderID)
}

func TestSwarmCoordinator_JoinRejections(t *testing.T) {
	sc := newCoordinator()
	s := sc.CreateSwarm("pair", "", 1, 2)

	require.NoError(t, sc.Join(s.ID, "a1"))
	assert.ErrorIs(t, sc.Join(s.ID, "a1"), shared.ErrAlreadyMember)

	require.NoError(t, sc.Join(s.ID, "a2"))
	assert.ErrorIs(t, sc.Join(s.ID, "a3"), shared.ErrSwarmFull)

	assert.ErrorIs(t, sc.Join("missing", "a1"), shared.ErrSwarmNotFound)

	require.NoError(t, sc.Dissolve(s.ID))
	assert.ErrorIs(t, sc.Join(s.ID, "a4"), shared.ErrSwarmDissolved)
}

func TestSwarmCoordinator_LeaveTransfersLeadership(t *testing.T) {
	sc := newCoordinator()
	s := sc.CreateSwarm("scouts", "", 2, 5)
	require.NoError(t, sc.Join(s.ID, "a1"))
	require.NoError(t, sc.Join(s.ID, "a2"))

	require.NoError(t, sc.Leave(s.ID, "a1"))
	got, _ := sc.GetSwarm(s.ID)
	assert.Equal(t, "a2", got.LeaderID)
	assert.Equal(t, swarm.StateForming, got.State)

	require.NoError(t, sc.Leave(s.ID, "a2"))
	got, _ = sc.GetSwarm(s.ID)
	assert.Empty(t, got.LeaderID)
	assert.Empty(t, got.Members)

	assert.ErrorIs(t, sc.Leave(s.ID, "a2"), shared.ErrNotMember)
}

func TestSwarmCoordinator_SetGoalStartsWork(t *testing.T) {
	sc := newCoordinator()
	s := sc.CreateSwarm("solo", "", 1, 3)
	require.NoError(t, sc.Join(s.ID, "a1"))

	require.NoError(t, sc.SetGoal(s.ID, "New Goal"))
	got, _ := sc.GetSwarm(s.ID)
	assert.Equal(t, "New Goal", got.Goal)
	assert.Equal(t, swarm.StateWorking, got.State)

	require.NoError(t, sc.BeginConvergence(s.ID))
	got, _ = sc.GetSwarm(s.ID)
	assert.Equal(t, swarm.StateConverging, got.State)
	assert.ErrorIs(t, sc.BeginConvergence(s.ID), shared.ErrInvalidState)
}

func TestSwarmCoordinator_DissolveIsTerminal(t *testing.T) {
	sc := newCoordinator()
	s := sc.CreateSwarm("scouts", "", 1, 5)
	require.NoError(t, sc.Join(s.ID, "a1"))

	require.NoError(t, sc.Dissolve(s.ID))
	require.NoError(t, sc.Dissolve(s.ID))

	got, _ := sc.GetSwarm(s.ID)
	assert.Equal(t, swarm.StateDissolved, got.State)
	assert.Empty(t, got.Members)
	assert.Empty(t, got.LeaderID)
	assert.ErrorIs(t, sc.SetGoal(s.ID, "again"), shared.ErrSwarmDissolved)

	_, found := sc.AgentSwarm("a1")
	assert.False(t, found)
}

func TestSwarmCoordinator_AgentSwitchesSwarm(t *testing.T) {
	sc := newCoordinator()
	s1 := sc.CreateSwarm("S1", "", 0, 0)
	s2 := sc.CreateSwarm("S2", "", 0, 0)

	require.NoError(t, sc.Join(s1.ID, "a1"))
	require.NoError(t, sc.Join(s2.ID, "a1"))

	got1, _ := sc.GetSwarm(s1.ID)
	got2, _ := sc.GetSwarm(s2.ID)
	assert.NotContains(t, got1.Members, "a1")
	assert.Contains(t, got2.Members, "a1")

	current, ok := sc.AgentSwarm("a1")
	require.True(t, ok)
	assert.Equal(t, s2.ID, current.ID)
}

func TestSwarmCoordinator_ElectLeader(t *testing.T) {
	sc := newCoordinator()
	s := sc.CreateSwarm("scouts", "", 0, 0)
	require.NoError(t, sc.Join(s.ID, "a1"))
	require.NoError(t, sc.Join(s.ID, "a2"))

	require.NoError(t, sc.ElectLeader(s.ID, "a2"))
	got, _ := sc.GetSwarm(s.ID)
	assert.Equal(t, "a2", got.LeaderID)

	assert.ErrorIs(t, sc.ElectLeader(s.ID, "outsider"), shared.ErrNotMember)
}

func TestSwarmCoordinator_DistributeGoalRoundRobin(t *testing.T) {
	sc := newCoordinator()
	s := sc.CreateSwarm("scouts", "", 0, 0)
	require.NoError(t, sc.Join(s.ID, "a1"))
	require.NoError(t, sc.Join(s.ID, "a2"))

	dist, err := sc.DistributeGoal(s.ID, []string{"g1", "g2", "g3"})
	require.NoError(t, err)
	assert.Len(t, dist, 2)
	assert.Equal(t, []string{"g1", "g3"}, dist["a1"])
	assert.Equal(t, []string{"g2"}, dist["a2"])

	_, err = sc.DistributeGoal("missing", nil)
	assert.True(t, errors.Is(err, shared.ErrSwarmNotFound))
}

func TestSwarmCoordinator_Counts(t *testing.T) {
	sc := newCoordinator()
	s1 := sc.CreateSwarm("S1", "", 1, 0)
	sc.CreateSwarm("S2", "", 0, 0)
	require.NoError(t, sc.Join(s1.ID, "a1"))

	assert.Equal(t, 2, sc.SwarmCount())
	assert.Equal(t, 1, sc.ActiveSwarmCount())
	assert.Equal(t, 1, sc.TotalMembers())
	assert.Len(t, sc.ListSwarms(), 2)
	assert.Equal(t, "S1", sc.ListSwarms()[0].Name)
}

func TestSwarmCoordinator_ConcurrentJoinsRespectMaxSize(t *testing.T) {
	sc := newCoordinator()
	s := sc.CreateSwarm("crowd", "", 2, 5)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = sc.Join(s.ID, "agent-"+string(rune('A'+i)))
		}(i)
	}
	wg.Wait()

	got, _ := sc.GetSwarm(s.ID)
	assert.Len(t, got.Members, 5)
	assert.True(t, got.State.RequiresQuorum())
}
