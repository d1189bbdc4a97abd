// Package swarm provides domain types for swarm coordination: swarms,
// pheromone markers, facts, vote sessions, auctions and fault events.
package swarm

// State represents the lifecycle state of a swarm.
type State string

const (
	StateForming    State = "forming"
	StateActive     State = "active"
	StateWorking    State = "working"
	StateConverging State = "converging"
	StateDissolved  State = "dissolved"
)

// IsTerminal returns true if no further transitions are possible.
func (s State) IsTerminal() bool {
	return s == StateDissolved
}

// RequiresQuorum returns true if the state demands at least MinSize members.
func (s State) RequiresQuorum() bool {
	return s == StateActive || s == StateWorking
}

// IsLive returns true for swarms that have formed and not dissolved.
func (s State) IsLive() bool {
	return s == StateActive || s == StateWorking || s == StateConverging
}

// PheromoneType represents the meaning of a stigmergic marker.
type PheromoneType string

const (
	PheromoneAttraction PheromoneType = "attraction"
	PheromoneRepulsion  PheromoneType = "repulsion"
	PheromoneTrail      PheromoneType = "trail"
	PheromoneAlarm      PheromoneType = "alarm"
	PheromoneSuccess    PheromoneType = "success"
)

// Polarity returns +1 for attracting markers and -1 for repelling ones.
func (p PheromoneType) Polarity() float64 {
	switch p {
	case PheromoneAttraction, PheromoneSuccess:
		return 1
	case PheromoneRepulsion, PheromoneAlarm:
		return -1
	default:
		return 0
	}
}

// VoteType represents the decision rule of a vote session.
type VoteType string

const (
	VoteMajority  VoteType = "majority"
	VoteUnanimous VoteType = "unanimous"
	VoteWeighted  VoteType = "weighted"
	VoteQuorum    VoteType = "quorum"
)

// AuctionState represents the state of a task auction.
type AuctionState string

const (
	AuctionOpen      AuctionState = "open"
	AuctionBidding   AuctionState = "bidding"
	AuctionClosed    AuctionState = "closed"
	AuctionAwarded   AuctionState = "awarded"
	AuctionCancelled AuctionState = "cancelled"
)

// AcceptsBids returns true while bids may still be placed.
func (s AuctionState) AcceptsBids() bool {
	return s == AuctionOpen || s == AuctionBidding
}

// rank orders auction states; transitions never move backwards.
func (s AuctionState) rank() int {
	switch s {
	case AuctionOpen:
		return 0
	case AuctionBidding:
		return 1
	case AuctionClosed:
		return 2
	case AuctionAwarded, AuctionCancelled:
		return 3
	default:
		return -1
	}
}

// FaultAction represents the recovery action chosen for a failure.
type FaultAction string

const (
	FaultReassign FaultAction = "reassign"
	FaultRetry    FaultAction = "retry"
	FaultSkip     FaultAction = "skip"
	FaultEscalate FaultAction = "escalate"
	FaultHeal     FaultAction = "heal"
)

// BalanceStrategy represents how the load balancer picks an agent.
type BalanceStrategy string

const (
	BalanceLeastLoaded  BalanceStrategy = "least_loaded"
	BalanceRoundRobin   BalanceStrategy = "round_robin"
	BalanceWorkStealing BalanceStrategy = "work_stealing"
)

// IsValid returns true for known strategies.
func (b BalanceStrategy) IsValid() bool {
	return b == BalanceLeastLoaded || b == BalanceRoundRobin || b == BalanceWorkStealing
}
