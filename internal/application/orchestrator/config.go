package orchestrator

import (
	"github.com/blackms/swarmkit/internal/application/auction"
	"github.com/blackms/swarmkit/internal/application/balancer"
	"github.com/blackms/swarmkit/internal/application/coordinator"
	"github.com/blackms/swarmkit/internal/application/emergent"
	"github.com/blackms/swarmkit/internal/application/fault"
	"github.com/blackms/swarmkit/internal/application/pheromone"
	"github.com/blackms/swarmkit/internal/application/voting"
)

// HealPolicy decides which failed agents Optimize heals.
type HealPolicy string

const (
	// HealAll heals every failed agent on each tick.
	HealAll HealPolicy = "all"
	// HealAfterTicks heals an agent once it has been failed for
	// HealAfterTicks consecutive ticks.
	HealAfterTicks HealPolicy = "after_ticks"
	// HealNone leaves healing to explicit HealAgent calls.
	HealNone HealPolicy = "none"
)

// IsValid returns true for a known policy.
func (p HealPolicy) IsValid() bool {
	switch p {
	case HealAll, HealAfterTicks, HealNone:
		return true
	}
	return false
}

// Config aggregates subsystem configuration.
type Config struct {
	Swarm     coordinator.Config
	Pheromone pheromone.Config
	Voting    voting.Config
	Auction   auction.Config
	Balancer  balancer.Config
	Fault     fault.Config
	Emergent  emergent.Config

	HealPolicy     HealPolicy
	HealAfterTicks int
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		Swarm:          coordinator.DefaultConfig(),
		Pheromone:      pheromone.DefaultConfig(),
		Voting:         voting.DefaultConfig(),
		Auction:        auction.DefaultConfig(),
		Balancer:       balancer.DefaultConfig(),
		Fault:          fault.DefaultConfig(),
		Emergent:       emergent.DefaultConfig(),
		HealPolicy:     HealAll,
		HealAfterTicks: 3,
	}
}

// withDefaults returns the effective configuration: every subsystem section
// with its defaults applied plus the orchestrator-level fields.
func (c Config) withDefaults() Config {
	c.Swarm = c.Swarm.WithDefaults()
	c.Pheromone = c.Pheromone.WithDefaults()
	c.Voting = c.Voting.WithDefaults()
	c.Auction = c.Auction.WithDefaults()
	c.Balancer = c.Balancer.WithDefaults()
	c.Fault = c.Fault.WithDefaults()
	c.Emergent = c.Emergent.WithDefaults()

	if !c.HealPolicy.IsValid() {
		c.HealPolicy = HealAll
	}
	if c.HealAfterTicks <= 0 {
		c.HealAfterTicks = DefaultConfig().HealAfterTicks
	}
	return c
}
