package swarm

import (
	"strings"
	"time"

	"github.com/blackms/swarmkit/internal/shared"
)

// VetoPrefix marks a veto pseudo-choice, e.g. "VETO:B".
const VetoPrefix = "VETO:"

// IsVeto reports whether a choice is a veto pseudo-choice.
func IsVeto(choice string) bool {
	return strings.HasPrefix(choice, VetoPrefix)
}

// Session is a vote on a topic. Once Resolved it never changes again.
type Session struct {
	ID        string             `json:"id"`
	Topic     string             `json:"topic"`
	Type      VoteType           `json:"type"`
	Options   []string           `json:"options"`
	Votes     map[string]string  `json:"votes"`
	Weights   map[string]float64 `json:"weights,omitempty"`
	Quorum    int                `json:"quorum"`
	Threshold float64            `json:"threshold"`
	Resolved  bool               `json:"resolved"`
	Winner    string             `json:"winner"`
	CreatedAt time.Time          `json:"created_at"`
	// voteOrder keeps first-vote order for deterministic iteration.
	voteOrder []string
}

// NewSession creates an unresolved session.
func NewSession(topic string, options []string, vtype VoteType, quorum int, threshold float64, weights map[string]float64) *Session {
	return &Session{
		ID:        shared.NewID(),
		Topic:     topic,
		Type:      vtype,
		Options:   shared.CloneStrings(options),
		Votes:     make(map[string]string),
		Weights:   shared.CloneFloatMap(weights),
		Quorum:    quorum,
		Threshold: threshold,
		CreatedAt: time.Now(),
	}
}

// HasOption reports whether choice is one of the session options.
func (s *Session) HasOption(choice string) bool {
	return shared.ContainsString(s.Options, choice)
}

// Record stores or replaces an agent's vote.
func (s *Session) Record(agentID, choice string) {
	if _, ok := s.Votes[agentID]; !ok {
		s.voteOrder = append(s.voteOrder, agentID)
	}
	s.Votes[agentID] = choice
}

// Voters returns agents in the order they first voted.
func (s *Session) Voters() []string {
	return shared.CloneStrings(s.voteOrder)
}

// WeightOf returns the configured weight for an agent, 1.0 by default.
func (s *Session) WeightOf(agentID string) float64 {
	if w, ok := s.Weights[agentID]; ok {
		return w
	}
	return 1.0
}

// Resolve marks the session resolved with the given winner.
func (s *Session) Resolve(winner string) {
	s.Resolved = true
	s.Winner = winner
}

// Clone returns a detached copy.
func (s *Session) Clone() Session {
	c := *s
	c.Options = shared.CloneStrings(s.Options)
	c.Votes = shared.CloneStringMap(s.Votes)
	c.Weights = shared.CloneFloatMap(s.Weights)
	c.voteOrder = shared.CloneStrings(s.voteOrder)
	return c
}
