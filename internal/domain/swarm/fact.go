package swarm

import (
	"time"

	"github.com/blackms/swarmkit/internal/shared"
)

// Fact is a shared piece of knowledge identified by its key.
type Fact struct {
	Key          string       `json:"key"`
	Value        shared.Value `json:"value"`
	Confidence   float64      `json:"confidence"`
	Contributors []string     `json:"contributors"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// AddContributor records an agent once; empty ids are ignored.
func (f *Fact) AddContributor(agentID string) {
	if agentID == "" || shared.ContainsString(f.Contributors, agentID) {
		return
	}
	f.Contributors = append(f.Contributors, agentID)
}

// Clone returns a detached copy.
func (f *Fact) Clone() Fact {
	c := *f
	c.Value = f.Value.Clone()
	c.Contributors = shared.CloneStrings(f.Contributors)
	return c
}
