package voting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackms/swarmkit/internal/domain/swarm"
	"github.com/blackms/swarmkit/internal/shared"
)

func castAll(t *testing.T, vs *System, sessionID string, votes map[string]string) {
	t.Helper()
	for agentID, choice := range votes {
		require.NoError(t, vs.CastVote(sessionID, agentID, choice))
	}
}

func TestSystem_CastVoteValidation(t *testing.T) {
	vs := New(DefaultConfig(), nil)
	s := vs.CreateSession("T", []string{"A", "B"}, swarm.VoteMajority, SessionOptions{})

	assert.NoError(t, vs.CastVote(s.ID, "a1", "A"))
	assert.ErrorIs(t, vs.CastVote(s.ID, "a2", "C"), shared.ErrInvalidChoice)
	assert.NoError(t, vs.CastVote(s.ID, "a3", "VETO:B"))
	assert.ErrorIs(t, vs.CastVote("missing", "a1", "A"), shared.ErrSessionNotFound)
}

func TestSystem_ResolveMajority(t *testing.T) {
	vs := New(Config{DefaultThreshold: 0.5}, nil)
	s := vs.CreateSession("T", []string{"A", "B"}, swarm.VoteMajority, SessionOptions{})
	castAll(t, vs, s.ID, map[string]string{"a1": "A", "a2": "A", "a3": "B"})

	res, err := vs.Resolve(s.ID)
	require.NoError(t, err)
	assert.True(t, res.Resolved)
	assert.Equal(t, "A", res.Winner)
}

func TestSystem_ResolveMajorityBelowThreshold(t *testing.T) {
	vs := New(DefaultConfig(), nil)
	s := vs.CreateSession("T", []string{"A", "B", "C"}, swarm.VoteMajority, SessionOptions{Threshold: 0.6})
	castAll(t, vs, s.ID, map[string]string{"a1": "A", "a2": "B", "a3": "C", "a4": "A"})

	res, err := vs.Resolve(s.ID)
	require.NoError(t, err)
	assert.True(t, res.Resolved)
	assert.Empty(t, res.Winner)
}

func TestSystem_ResolveUnanimous(t *testing.T) {
	vs := New(DefaultConfig(), nil)

	agree := vs.CreateSession("T", []string{"A", "B"}, swarm.VoteUnanimous, SessionOptions{})
	castAll(t, vs, agree.ID, map[string]string{"a1": "A", "a2": "A"})
	res, err := vs.Resolve(agree.ID)
	require.NoError(t, err)
	assert.Equal(t, "A", res.Winner)

	split := vs.CreateSession("T", []string{"A", "B"}, swarm.VoteUnanimous, SessionOptions{})
	castAll(t, vs, split.ID, map[string]string{"a1": "A", "a2": "B"})
	res, err = vs.Resolve(split.ID)
	require.NoError(t, err)
	assert.True(t, res.Resolved)
	assert.Empty(t, res.Winner)
}

func TestSystem_ResolveWeighted(t *testing.T) {
	vs := New(DefaultConfig(), nil)
	s := vs.CreateSession("T", []string{"A", "B"}, swarm.VoteWeighted, SessionOptions{
		Weights: map[string]float64{"a1": 10.0, "a2": 1.0},
	})
	castAll(t, vs, s.ID, map[string]string{"a1": "A", "a2": "B", "a3": "B"})

	res, err := vs.Resolve(s.ID)
	require.NoError(t, err)
	assert.Equal(t, "A", res.Winner)

	results, err := vs.Results(s.ID)
	require.NoError(t, err)
	assert.Equal(t, 10.0, results.Tally["A"])
	assert.Equal(t, 2.0, results.Tally["B"])
}

func TestSystem_QuorumKeepsSessionOpen(t *testing.T) {
	vs := New(DefaultConfig(), nil)
	s := vs.CreateSession("T", []string{"A", "B"}, swarm.VoteQuorum, SessionOptions{Quorum: 3})
	require.NoError(t, vs.CastVote(s.ID, "a1", "A"))

	res, err := vs.Resolve(s.ID)
	require.NoError(t, err)
	assert.False(t, res.Resolved)
	assert.Empty(t, res.Winner)
	assert.Equal(t, 1, vs.ActiveSessions())

	castAll(t, vs, s.ID, map[string]string{"a2": "A", "a3": "B"})
	res, err = vs.Resolve(s.ID)
	require.NoError(t, err)
	assert.True(t, res.Resolved)
	assert.Equal(t, "A", res.Winner)
	assert.Equal(t, 0, vs.ActiveSessions())
}

func TestSystem_VetoVoidsOutcome(t *testing.T) {
	vs := New(DefaultConfig(), nil)
	vs.GrantVeto("a1")
	s := vs.CreateSession("T", []string{"A", "B"}, swarm.VoteMajority, SessionOptions{})
	castAll(t, vs, s.ID, map[string]string{"a1": "VETO:B", "a2": "A"})

	res, err := vs.Resolve(s.ID)
	require.NoError(t, err)
	assert.True(t, res.Resolved)
	assert.True(t, res.Vetoed)
	assert.Empty(t, res.Winner)
}

func TestSystem_VetoWithoutRightIsIgnored(t *testing.T) {
	vs := New(DefaultConfig(), nil)
	s := vs.CreateSession("T", []string{"A", "B"}, swarm.VoteMajority, SessionOptions{})
	castAll(t, vs, s.ID, map[string]string{"a1": "VETO:A", "a2": "A"})

	res, err := vs.Resolve(s.ID)
	require.NoError(t, err)
	assert.False(t, res.Vetoed)
	assert.Equal(t, "A", res.Winner)
}

func TestSystem_ResolveIsWriteOnce(t *testing.T) {
	vs := New(DefaultConfig(), nil)
	s := vs.CreateSession("T", []string{"A", "B"}, swarm.VoteMajority, SessionOptions{})
	castAll(t, vs, s.ID, map[string]string{"a1": "A", "a2": "A", "a3": "B"})

	first, err := vs.Resolve(s.ID)
	require.NoError(t, err)

	assert.ErrorIs(t, vs.CastVote(s.ID, "a4", "B"), shared.ErrSessionResolved)

	second, err := vs.Resolve(s.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	snapshot, err := vs.GetSession(s.ID)
	require.NoError(t, err)
	assert.Len(t, snapshot.Votes, 3)
}

func TestSystem_VetoGrants(t *testing.T) {
	vs := New(DefaultConfig(), nil)
	vs.GrantVeto("a1")
	vs.GrantVeto("a2")
	vs.RevokeVeto("a1")
	assert.Equal(t, 1, vs.VetoHolderCount())

	vs.CreateSession("T1", []string{"A", "B"}, "", SessionOptions{})
	vs.CreateSession("T2", []string{"C", "D"}, "", SessionOptions{})
	assert.Equal(t, 2, vs.ActiveSessions())
}
