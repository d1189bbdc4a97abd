package swarm

import (
	"time"

	"github.com/blackms/swarmkit/internal/shared"
)

// Swarm is a transient coalition of agents working toward a goal.
type Swarm struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Goal      string    `json:"goal"`
	State     State     `json:"state"`
	Members   []string  `json:"members"`
	LeaderID  string    `json:"leader_id"`
	MinSize   int       `json:"min_size"`
	MaxSize   int       `json:"max_size"`
	CreatedAt time.Time `json:"created_at"`
}

// NewSwarm creates a swarm in the forming state.
func NewSwarm(name, goal string, minSize, maxSize int) *Swarm {
	return &Swarm{
		ID:        shared.NewID(),
		Name:      name,
		Goal:      goal,
		State:     StateForming,
		Members:   make([]string, 0),
		MinSize:   minSize,
		MaxSize:   maxSize,
		CreatedAt: time.Now(),
	}
}

// HasMember reports whether the agent is a member.
func (s *Swarm) HasMember(agentID string) bool {
	return shared.ContainsString(s.Members, agentID)
}

// IsFull reports whether the swarm reached MaxSize.
func (s *Swarm) IsFull() bool {
	return s.MaxSize > 0 && len(s.Members) >= s.MaxSize
}

// AddMember appends an agent, makes it leader if there is none and promotes
// forming to active once MinSize is reached. Callers check IsFull and HasMember.
func (s *Swarm) AddMember(agentID string) {
	s.Members = append(s.Members, agentID)
	if s.LeaderID == "" {
		s.LeaderID = agentID
	}
	if s.State == StateForming && len(s.Members) >= s.MinSize {
		s.State = StateActive
	}
}

// RemoveMember removes an agent. Leadership passes to the first remaining
// member; dropping below MinSize demotes active/working back to forming.
func (s *Swarm) RemoveMember(agentID string) bool {
	idx := -1
	for i, id := range s.Members {
		if id == agentID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}

	s.Members = append(s.Members[:idx], s.Members[idx+1:]...)

	if s.LeaderID == agentID {
		s.LeaderID = ""
		if len(s.Members) > 0 {
			s.LeaderID = s.Members[0]
		}
	}

	if s.State.RequiresQuorum() && len(s.Members) < s.MinSize {
		s.State = StateForming
	}
	return true
}

// Dissolve clears membership and leadership. Terminal.
func (s *Swarm) Dissolve() {
	s.Members = make([]string, 0)
	s.LeaderID = ""
	s.State = StateDissolved
}

// Clone returns a detached copy.
func (s *Swarm) Clone() Swarm {
	c := *s
	c.Members = shared.CloneStrings(s.Members)
	return c
}
