package swarm

import (
	"fmt"
	"time"

	"github.com/blackms/swarmkit/internal/shared"
)

// Auction is a competitive allocation of one task.
type Auction struct {
	ID                   string             `json:"id"`
	TaskID               string             `json:"task_id"`
	Description          string             `json:"description"`
	State                AuctionState       `json:"state"`
	RequiredCapabilities []string           `json:"required_capabilities"`
	Bids                 map[string]float64 `json:"bids"`
	Winner               string             `json:"winner"`
	CreatedAt            time.Time          `json:"created_at"`
	// bidOrder keeps first-bid order for deterministic tie-breaks.
	bidOrder []string
}

// NewAuction creates an open auction.
func NewAuction(taskID, description string, required []string) *Auction {
	if required == nil {
		required = []string{}
	}
	return &Auction{
		ID:                   shared.NewID(),
		TaskID:               taskID,
		Description:          description,
		State:                AuctionOpen,
		RequiredCapabilities: shared.CloneStrings(required),
		Bids:                 make(map[string]float64),
		CreatedAt:            time.Now(),
	}
}

// Transition moves the auction forward. Backward moves, and moves out of a
// final state, are rejected.
func (a *Auction) Transition(next AuctionState) error {
	if next.rank() < a.State.rank() || a.State.rank() == 3 {
		return fmt.Errorf("auction %s: cannot move from %s to %s", a.ID, a.State, next)
	}
	a.State = next
	return nil
}

// PlaceBid records a bid; the first bid moves open to bidding.
func (a *Auction) PlaceBid(agentID string, score float64) {
	if _, ok := a.Bids[agentID]; !ok {
		a.bidOrder = append(a.bidOrder, agentID)
	}
	a.Bids[agentID] = score
	if a.State == AuctionOpen {
		a.State = AuctionBidding
	}
}

// Bidders returns agents in first-bid order.
func (a *Auction) Bidders() []string {
	return shared.CloneStrings(a.bidOrder)
}

// Clone returns a detached copy.
func (a *Auction) Clone() Auction {
	c := *a
	c.RequiredCapabilities = shared.CloneStrings(a.RequiredCapabilities)
	c.Bids = shared.CloneFloatMap(a.Bids)
	c.bidOrder = shared.CloneStrings(a.bidOrder)
	return c
}
