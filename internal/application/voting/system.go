// Package voting provides group decisions over vote sessions: majority,
// unanimous, weighted and quorum rules, with quorum gating and vetoes.
package voting

import (
	"log/slog"
	"sync"

	"github.com/blackms/swarmkit/internal/domain/swarm"
	"github.com/blackms/swarmkit/internal/shared"
)

// Config holds voting defaults.
type Config struct {
	// DefaultThreshold is the share a majority winner needs.
	DefaultThreshold float64
}

// DefaultConfig returns the default voting configuration.
func DefaultConfig() Config {
	return Config{DefaultThreshold: 0.5}
}

// WithDefaults replaces a non-positive threshold with the default.
func (c Config) WithDefaults() Config {
	if c.DefaultThreshold <= 0 {
		c.DefaultThreshold = DefaultConfig().DefaultThreshold
	}
	return c
}

// SessionOptions are optional session parameters.
type SessionOptions struct {
	// Quorum is the minimum number of votes before resolution; 0 disables it.
	Quorum int
	// Weights maps agent to vote weight for weighted sessions.
	Weights map[string]float64
	// Threshold overrides Config.DefaultThreshold when positive.
	Threshold float64
}

// Resolution is the outcome of a Resolve call.
type Resolution struct {
	SessionID string `json:"session_id"`
	Winner    string `json:"winner"`
	Resolved  bool   `json:"resolved"`
	Vetoed    bool   `json:"vetoed"`
}

// Results summarises the tally of a session.
type Results struct {
	SessionID  string             `json:"session_id"`
	Topic      string             `json:"topic"`
	Type       swarm.VoteType     `json:"type"`
	TotalVotes int                `json:"total_votes"`
	Tally      map[string]float64 `json:"tally"`
	Resolved   bool               `json:"resolved"`
	Winner     string             `json:"winner"`
}

// System owns vote sessions and veto grants.
type System struct {
	mu          sync.RWMutex
	config      Config
	logger      *slog.Logger
	sessions    map[string]*swarm.Session
	vetoHolders map[string]bool
	vetoed      map[string]bool
}

// New creates a new voting System.
func New(config Config, logger *slog.Logger) *System {
	if logger == nil {
		logger = slog.Default()
	}
	return &System{
		config:      config.WithDefaults(),
		logger:      logger.With("component", "voting"),
		sessions:    make(map[string]*swarm.Session),
		vetoHolders: make(map[string]bool),
		vetoed:      make(map[string]bool),
	}
}

// CreateSession opens a vote on a topic.
func (vs *System) CreateSession(topic string, options []string, vtype swarm.VoteType, opts SessionOptions) swarm.Session {
	if vtype == "" {
		vtype = swarm.VoteMajority
	}
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = vs.config.DefaultThreshold
	}
	s := swarm.NewSession(topic, options, vtype, opts.Quorum, threshold, opts.Weights)

	vs.mu.Lock()
	vs.sessions[s.ID] = s
	vs.mu.Unlock()

	return s.Clone()
}

// GrantVeto gives an agent the right to void outcomes.
func (vs *System) GrantVeto(agentID string) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	vs.vetoHolders[agentID] = true
}

// RevokeVeto removes an agent's veto right.
func (vs *System) RevokeVeto(agentID string) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	delete(vs.vetoHolders, agentID)
}

// VetoHolderCount returns the number of agents holding a veto.
func (vs *System) VetoHolderCount() int {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	return len(vs.vetoHolders)
}

// CastVote records a vote. A "VETO:<choice>" pseudo-choice is always
// accepted; whether it counts is decided at resolution time.
func (vs *System) CastVote(sessionID, agentID, choice string) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	s, ok := vs.sessions[sessionID]
	if !ok {
		return shared.ErrSessionNotFound.With("session not found", "sessionId", sessionID)
	}
	if s.Resolved {
		return shared.ErrSessionResolved.With("session already resolved", "sessionId", sessionID)
	}
	if !swarm.IsVeto(choice) && !s.HasOption(choice) {
		return shared.ErrInvalidChoice.With("choice is not an option", "sessionId", sessionID, "choice", choice)
	}

	s.Record(agentID, choice)
	return nil
}

// Resolve decides the session. While quorum is unmet the session stays open
// and Resolve may be called again later. Once resolved, repeat calls return
// the stored outcome and change nothing.
func (vs *System) Resolve(sessionID string) (Resolution, error) {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	s, ok := vs.sessions[sessionID]
	if !ok {
		return Resolution{}, shared.ErrSessionNotFound.With("session not found", "sessionId", sessionID)
	}
	if s.Resolved {
		return Resolution{SessionID: s.ID, Winner: s.Winner, Resolved: true, Vetoed: vs.vetoed[s.ID]}, nil
	}

	if s.Quorum > 0 && len(s.Votes) < s.Quorum {
		vs.logger.Debug("quorum not met", "sessionId", s.ID, "votes", len(s.Votes), "quorum", s.Quorum)
		return Resolution{SessionID: s.ID}, nil
	}

	for _, agentID := range s.Voters() {
		if swarm.IsVeto(s.Votes[agentID]) && vs.vetoHolders[agentID] {
			s.Resolve("")
			vs.vetoed[s.ID] = true
			vs.logger.Info("session vetoed", "sessionId", s.ID, "agentId", agentID)
			return Resolution{SessionID: s.ID, Resolved: true, Vetoed: true}, nil
		}
	}

	var winner string
	switch s.Type {
	case swarm.VoteUnanimous:
		winner = unanimousWinner(s)
	case swarm.VoteWeighted:
		winner, _ = plurality(s, true)
	default:
		// Majority and quorum share one rule; quorum was enforced above.
		winner = majorityWinner(s)
	}

	s.Resolve(winner)
	vs.logger.Debug("session resolved", "sessionId", s.ID, "type", s.Type, "winner", winner)
	return Resolution{SessionID: s.ID, Winner: winner, Resolved: true}, nil
}

// Results returns the current tally of a session.
func (vs *System) Results(sessionID string) (Results, error) {
	vs.mu.RLock()
	defer vs.mu.RUnlock()

	s, ok := vs.sessions[sessionID]
	if !ok {
		return Results{}, shared.ErrSessionNotFound.With("session not found", "sessionId", sessionID)
	}
	return Results{
		SessionID:  s.ID,
		Topic:      s.Topic,
		Type:       s.Type,
		TotalVotes: len(s.Votes),
		Tally:      tally(s, s.Type == swarm.VoteWeighted),
		Resolved:   s.Resolved,
		Winner:     s.Winner,
	}, nil
}

// GetSession returns a session snapshot.
func (vs *System) GetSession(sessionID string) (swarm.Session, error) {
	vs.mu.RLock()
	defer vs.mu.RUnlock()

	s, ok := vs.sessions[sessionID]
	if !ok {
		return swarm.Session{}, shared.ErrSessionNotFound.With("session not found", "sessionId", sessionID)
	}
	return s.Clone(), nil
}

// ActiveSessions returns the number of unresolved sessions.
func (vs *System) ActiveSessions() int {
	vs.mu.RLock()
	defer vs.mu.RUnlock()

	count := 0
	for _, s := range vs.sessions {
		if !s.Resolved {
			count++
		}
	}
	return count
}

// tally sums votes per option, ignoring veto pseudo-choices.
func tally(s *swarm.Session, weighted bool) map[string]float64 {
	counts := make(map[string]float64)
	for agentID, choice := range s.Votes {
		if swarm.IsVeto(choice) {
			continue
		}
		if weighted {
			counts[choice] += s.WeightOf(agentID)
		} else {
			counts[choice]++
		}
	}
	return counts
}

// plurality returns the option with the highest tally and its share of the
// total. Ties go to the option listed first.
func plurality(s *swarm.Session, weighted bool) (string, float64) {
	counts := tally(s, weighted)
	total := 0.0
	for _, c := range counts {
		total += c
	}
	if total <= 0 {
		return "", 0
	}

	winner, best := "", 0.0
	for _, option := range s.Options {
		if c := counts[option]; c > best {
			winner, best = option, c
		}
	}
	return winner, best / total
}

func majorityWinner(s *swarm.Session) string {
	winner, share := plurality(s, false)
	if winner == "" || share < s.Threshold {
		return ""
	}
	return winner
}

func unanimousWinner(s *swarm.Session) string {
	counts := tally(s, false)
	if len(counts) != 1 {
		return ""
	}
	for choice := range counts {
		return choice
	}
	return ""
}
