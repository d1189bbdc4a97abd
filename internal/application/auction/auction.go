// Package auction provides TaskAuction: capability-gated competitive bidding
// for tasks, with a fairness bonus that keeps one agent from winning
// everything.
package auction

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/blackms/swarmkit/internal/domain/swarm"
	"github.com/blackms/swarmkit/internal/shared"
)

// Config holds auction defaults.
type Config struct {
	// FairnessWeight scales the bonus 1/(1+priorWins) added to each bid.
	FairnessWeight float64
}

// DefaultConfig returns the default auction configuration.
func DefaultConfig() Config {
	return Config{FairnessWeight: 0.3}
}

// WithDefaults replaces a non-positive fairness weight with the default.
// CloseWithFairness(id, 0) closes without the bonus.
func (c Config) WithDefaults() Config {
	if c.FairnessWeight <= 0 {
		c.FairnessWeight = DefaultConfig().FairnessWeight
	}
	return c
}

// Statistics summarises auction activity.
type Statistics struct {
	TotalAuctions    int `json:"total_auctions"`
	OpenAuctions     int `json:"open_auctions"`
	AwardedAuctions  int `json:"awarded_auctions"`
	CancelledAuction int `json:"cancelled_auctions"`
	RegisteredAgents int `json:"registered_agents"`
	TotalBids        int `json:"total_bids"`
}

// TaskAuction owns auction records, agent capabilities and win counts.
type TaskAuction struct {
	mu           sync.RWMutex
	config       Config
	logger       *slog.Logger
	auctions     map[string]*swarm.Auction
	order        []string
	capabilities map[string]map[string]bool
	wins         map[string]int
}

// New creates a new TaskAuction.
func New(config Config, logger *slog.Logger) *TaskAuction {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskAuction{
		config:       config.WithDefaults(),
		logger:       logger.With("component", "auction"),
		auctions:     make(map[string]*swarm.Auction),
		order:        make([]string, 0),
		capabilities: make(map[string]map[string]bool),
		wins:         make(map[string]int),
	}
}

// RegisterAgent records an agent's capabilities, replacing earlier ones.
func (ta *TaskAuction) RegisterAgent(agentID string, capabilities []string) {
	caps := make(map[string]bool, len(capabilities))
	for _, c := range capabilities {
		caps[c] = true
	}

	ta.mu.Lock()
	ta.capabilities[agentID] = caps
	ta.mu.Unlock()
}

// EnsureAgent registers an agent with no capabilities unless it is already
// known, so earlier capability grants survive.
func (ta *TaskAuction) EnsureAgent(agentID string) {
	ta.mu.Lock()
	defer ta.mu.Unlock()

	if _, ok := ta.capabilities[agentID]; !ok {
		ta.capabilities[agentID] = make(map[string]bool)
	}
}

// Capabilities returns an agent's capabilities, sorted.
func (ta *TaskAuction) Capabilities(agentID string) []string {
	ta.mu.RLock()
	defer ta.mu.RUnlock()

	caps := make([]string, 0, len(ta.capabilities[agentID]))
	for c := range ta.capabilities[agentID] {
		caps = append(caps, c)
	}
	sort.Strings(caps)
	return caps
}

// CreateAuction opens an auction for a task.
func (ta *TaskAuction) CreateAuction(taskID, description string, required []string) swarm.Auction {
	a := swarm.NewAuction(taskID, description, required)

	ta.mu.Lock()
	ta.auctions[a.ID] = a
	ta.order = append(ta.order, a.ID)
	ta.mu.Unlock()

	ta.logger.Debug("auction opened", "auctionId", a.ID, "taskId", taskID, "required", required)
	return a.Clone()
}

// PlaceBid records a bid. The agent must hold every required capability;
// agents never registered can only bid on auctions with no requirements.
func (ta *TaskAuction) PlaceBid(auctionID, agentID string, score float64) error {
	ta.mu.Lock()
	defer ta.mu.Unlock()

	a, ok := ta.auctions[auctionID]
	if !ok {
		return shared.ErrAuctionNotFound.With("auction not found", "auctionId", auctionID)
	}
	if !a.State.AcceptsBids() {
		return shared.ErrAuctionClosed.With("auction no longer accepts bids", "auctionId", auctionID, "state", string(a.State))
	}
	if missing := ta.missingCapabilityLocked(agentID, a.RequiredCapabilities); missing != "" {
		ta.logger.Info("bid rejected: missing capability", "auctionId", auctionID, "agentId", agentID, "capability", missing)
		return shared.ErrMissingCapability.With("agent lacks a required capability", "agentId", agentID, "capability", missing)
	}

	a.PlaceBid(agentID, score)
	return nil
}

// Close awards the auction using the configured fairness weight.
func (ta *TaskAuction) Close(auctionID string) (string, error) {
	return ta.CloseWithFairness(auctionID, ta.config.FairnessWeight)
}

// CloseWithFairness awards the auction to the highest adjusted score,
// score + fairnessWeight/(1+priorWins). Ties go to the higher raw score,
// then to the earlier bidder. With no bids the auction is cancelled and the
// winner is empty.
func (ta *TaskAuction) CloseWithFairness(auctionID string, fairnessWeight float64) (string, error) {
	ta.mu.Lock()
	defer ta.mu.Unlock()

	a, ok := ta.auctions[auctionID]
	if !ok {
		return "", shared.ErrAuctionNotFound.With("auction not found", "auctionId", auctionID)
	}
	if !a.State.AcceptsBids() {
		return "", shared.ErrAuctionClosed.With("auction already closed", "auctionId", auctionID, "state", string(a.State))
	}

	if len(a.Bids) == 0 {
		if err := a.Transition(swarm.AuctionCancelled); err != nil {
			return "", err
		}
		a.Winner = ""
		ta.logger.Debug("auction cancelled: no bids", "auctionId", auctionID)
		return "", nil
	}

	if err := a.Transition(swarm.AuctionClosed); err != nil {
		return "", err
	}

	winner := ""
	bestAdjusted, bestRaw := 0.0, 0.0
	for _, agentID := range a.Bidders() {
		raw := a.Bids[agentID]
		adjusted := raw + fairnessWeight/float64(1+ta.wins[agentID])
		if winner == "" || adjusted > bestAdjusted || (adjusted == bestAdjusted && raw > bestRaw) {
			winner, bestAdjusted, bestRaw = agentID, adjusted, raw
		}
	}

	if err := a.Transition(swarm.AuctionAwarded); err != nil {
		return "", err
	}
	a.Winner = winner
	ta.wins[winner]++

	ta.logger.Debug("auction awarded", "auctionId", auctionID, "winner", winner, "adjustedScore", bestAdjusted)
	return winner, nil
}

// Cancel cancels an auction that has not been awarded. Cancelling twice is
// a no-op.
func (ta *TaskAuction) Cancel(auctionID string) error {
	ta.mu.Lock()
	defer ta.mu.Unlock()

	a, ok := ta.auctions[auctionID]
	if !ok {
		return shared.ErrAuctionNotFound.With("auction not found", "auctionId", auctionID)
	}
	switch a.State {
	case swarm.AuctionAwarded:
		return shared.ErrAuctionAwarded.With("awarded auctions cannot be cancelled", "auctionId", auctionID)
	case swarm.AuctionCancelled:
		return nil
	}
	a.State = swarm.AuctionCancelled
	a.Winner = ""
	return nil
}

// GetAuction returns an auction snapshot.
func (ta *TaskAuction) GetAuction(auctionID string) (swarm.Auction, error) {
	ta.mu.RLock()
	defer ta.mu.RUnlock()

	a, ok := ta.auctions[auctionID]
	if !ok {
		return swarm.Auction{}, shared.ErrAuctionNotFound.With("auction not found", "auctionId", auctionID)
	}
	return a.Clone(), nil
}

// OpenAuctions returns auctions still accepting bids, in creation order.
func (ta *TaskAuction) OpenAuctions() []swarm.Auction {
	ta.mu.RLock()
	defer ta.mu.RUnlock()

	open := make([]swarm.Auction, 0)
	for _, id := range ta.order {
		if a := ta.auctions[id]; a.State.AcceptsBids() {
			open = append(open, a.Clone())
		}
	}
	return open
}

// OpenAuctionCount returns the number of auctions accepting bids.
func (ta *TaskAuction) OpenAuctionCount() int {
	return len(ta.OpenAuctions())
}

// AgentWins returns the lifetime win count of an agent.
func (ta *TaskAuction) AgentWins(agentID string) int {
	ta.mu.RLock()
	defer ta.mu.RUnlock()
	return ta.wins[agentID]
}

// Statistics returns aggregate counts.
func (ta *TaskAuction) Statistics() Statistics {
	ta.mu.RLock()
	defer ta.mu.RUnlock()

	stats := Statistics{
		TotalAuctions:    len(ta.auctions),
		RegisteredAgents: len(ta.capabilities),
	}
	for _, a := range ta.auctions {
		stats.TotalBids += len(a.Bids)
		switch {
		case a.State.AcceptsBids():
			stats.OpenAuctions++
		case a.State == swarm.AuctionAwarded:
			stats.AwardedAuctions++
		case a.State == swarm.AuctionCancelled:
			stats.CancelledAuction++
		}
	}
	return stats
}

// missingCapabilityLocked returns the first required capability the agent
// lacks, or "" when it holds them all.
func (ta *TaskAuction) missingCapabilityLocked(agentID string, required []string) string {
	caps := ta.capabilities[agentID]
	for _, c := range required {
		if !caps[c] {
			return c
		}
	}
	return ""
}
