package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/blackms/swarmkit/pkg/swarmkit"
)

// Scenario is a scripted simulation loaded from YAML.
type Scenario struct {
	Name        string             `yaml:"name"`
	StopOnError bool               `yaml:"stop_on_error"`
	Agents      []AgentSpec        `yaml:"agents"`
	Missions    []MissionSpec      `yaml:"missions"`
	Steps       []Step             `yaml:"steps"`
	Behaviors   []BehaviorSpec     `yaml:"behaviors"`
	Outcomes    map[string]float64 `yaml:"outcomes"`
}

// AgentSpec declares agent capabilities and backups.
type AgentSpec struct {
	ID           string   `yaml:"id"`
	Capabilities []string `yaml:"capabilities"`
	Backup       string   `yaml:"backup"`
	Veto         bool     `yaml:"veto"`
}

// MissionSpec declares a mission created before the steps run.
type MissionSpec struct {
	Name   string   `yaml:"name"`
	Goal   string   `yaml:"goal"`
	Agents []string `yaml:"agents"`
}

// BehaviorSpec declares an emergent behavior checked after the steps run.
type BehaviorSpec struct {
	Name       string                 `yaml:"name"`
	Conditions map[string]interface{} `yaml:"conditions"`
}

// Step is one scripted action. Exactly one field is set.
type Step struct {
	Assign   *AssignStep `yaml:"assign,omitempty"`
	Bid      *BidStep    `yaml:"bid,omitempty"`
	Award    *AwardStep  `yaml:"award,omitempty"`
	Complete *TaskStep   `yaml:"complete,omitempty"`
	Fail     *FailStep   `yaml:"fail,omitempty"`
	Share    *ShareStep  `yaml:"share,omitempty"`
	Vote     *VoteStep   `yaml:"vote,omitempty"`
	Act      *ActStep    `yaml:"act,omitempty"`
	Mark     *MarkStep   `yaml:"mark,omitempty"`
	Optimize *struct{}   `yaml:"optimize,omitempty"`
	Dissolve *string     `yaml:"dissolve,omitempty"`
}

// AssignStep assigns a task within a mission.
type AssignStep struct {
	Mission      string   `yaml:"mission"`
	Task         string   `yaml:"task"`
	Description  string   `yaml:"description"`
	Auction      bool     `yaml:"auction"`
	Capabilities []string `yaml:"capabilities"`
	Agent        string   `yaml:"agent"`
}

// BidStep bids on the auction opened for a task.
type BidStep struct {
	Task  string  `yaml:"task"`
	Agent string  `yaml:"agent"`
	Score float64 `yaml:"score"`
}

// AwardStep closes the auction opened for a task.
type AwardStep struct {
	Task string `yaml:"task"`
}

// TaskStep names an agent's task.
type TaskStep struct {
	Agent string `yaml:"agent"`
	Task  string `yaml:"task"`
}

// FailStep reports an agent failure.
type FailStep struct {
	Agent string `yaml:"agent"`
	Task  string `yaml:"task"`
	Fault string `yaml:"fault"`
}

// ShareStep stores a fact.
type ShareStep struct {
	Agent      string      `yaml:"agent"`
	Key        string      `yaml:"key"`
	Value      interface{} `yaml:"value"`
	Confidence float64     `yaml:"confidence"`
}

// VoteStep runs a vote.
type VoteStep struct {
	Mission string             `yaml:"mission"`
	Topic   string             `yaml:"topic"`
	Options []string           `yaml:"options"`
	Votes   map[string]string  `yaml:"votes"`
	Type    string             `yaml:"type"`
	Quorum  int                `yaml:"quorum"`
	Weights map[string]float64 `yaml:"weights"`
}

// ActStep records an agent action.
type ActStep struct {
	Agent  string `yaml:"agent"`
	Action string `yaml:"action"`
}

// MarkStep leaves a pheromone marker.
type MarkStep struct {
	Agent     string  `yaml:"agent"`
	Location  string  `yaml:"location"`
	Type      string  `yaml:"type"`
	Intensity float64 `yaml:"intensity"`
}

// StepResult records what one step did.
type StepResult struct {
	Index  int    `json:"index"`
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
	Error  string `json:"error,omitempty"`
}

// Report is the outcome of a simulation.
type Report struct {
	Scenario    string                     `json:"scenario"`
	Missions    map[string]string          `json:"missions"`
	Steps       []StepResult               `json:"steps"`
	Synergies   []swarmkit.Synergy         `json:"synergies,omitempty"`
	Triggered   []string                   `json:"triggered_behaviors,omitempty"`
	Knowledge   map[string]swarmkit.Value  `json:"knowledge"`
	Snapshot    swarmkit.Snapshot          `json:"snapshot"`
	Maintenance *swarmkit.MaintenanceStats `json:"maintenance,omitempty"`
}

// Failed returns the number of steps that returned an error.
func (r Report) Failed() int {
	n := 0
	for _, s := range r.Steps {
		if s.Error != "" {
			n++
		}
	}
	return n
}

// LoadScenario reads a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening scenario: %w", err)
	}
	defer f.Close()
	return DecodeScenario(f)
}

// DecodeScenario parses a scenario. Unknown keys are rejected.
func DecodeScenario(r io.Reader) (*Scenario, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var s Scenario
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	if len(s.Missions) == 0 {
		return nil, errors.New("scenario declares no missions")
	}
	for i, step := range s.Steps {
		if n := step.kinds(); n != 1 {
			return nil, fmt.Errorf("step %d must set exactly one action, got %d", i+1, n)
		}
	}
	return &s, nil
}

func (s Step) kinds() int {
	n := 0
	for _, set := range []bool{
		s.Assign != nil, s.Bid != nil, s.Award != nil, s.Complete != nil, s.Fail != nil,
		s.Share != nil, s.Vote != nil, s.Act != nil, s.Mark != nil, s.Optimize != nil, s.Dissolve != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

// runner carries name lookups while a scenario executes.
type runner struct {
	kit      *swarmkit.Kit
	missions map[string]string // mission name -> swarm id
	auctions map[string]string // task id -> auction id
}

// Run executes the scenario against kit.
func (s *Scenario) Run(ctx context.Context, kit *swarmkit.Kit) (Report, error) {
	r := &runner{
		kit:      kit,
		missions: make(map[string]string),
		auctions: make(map[string]string),
	}
	report := Report{Scenario: s.Name, Missions: r.missions, Steps: make([]StepResult, 0, len(s.Steps))}

	for _, a := range s.Agents {
		kit.RegisterCapabilities(a.ID, a.Capabilities)
		if a.Veto {
			kit.GrantVeto(a.ID)
		}
	}
	for _, m := range s.Missions {
		res, err := kit.CreateMission(ctx, m.Name, m.Goal, m.Agents)
		if err != nil {
			return report, fmt.Errorf("creating mission %s: %w", m.Name, err)
		}
		r.missions[m.Name] = res.SwarmID
	}
	// Backups need the agents registered, which CreateMission does.
	for _, a := range s.Agents {
		if a.Backup == "" {
			continue
		}
		if err := kit.SetBackup(a.ID, a.Backup); err != nil {
			return report, fmt.Errorf("setting backup for %s: %w", a.ID, err)
		}
	}

	for i, step := range s.Steps {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		kind, detail, err := r.apply(ctx, step)
		result := StepResult{Index: i + 1, Kind: kind, Detail: detail}
		if err != nil {
			result.Error = err.Error()
		}
		report.Steps = append(report.Steps, result)
		if err != nil && s.StopOnError {
			return report, fmt.Errorf("step %d (%s): %w", i+1, kind, err)
		}
	}

	if len(s.Outcomes) > 0 {
		report.Synergies = kit.DetectSynergy(pairsFromOutcomes(s.Outcomes), s.Outcomes)
	}
	for _, b := range s.Behaviors {
		triggered, err := r.checkBehavior(b)
		if err != nil {
			return report, err
		}
		if triggered {
			report.Triggered = append(report.Triggered, b.Name)
		}
	}

	report.Knowledge = kit.CollectiveKnowledge("")
	report.Snapshot = kit.Snapshot()
	return report, nil
}

func (r *runner) apply(ctx context.Context, step Step) (string, string, error) {
	switch {
	case step.Assign != nil:
		a := step.Assign
		res, err := r.kit.AssignTask(ctx, swarmkit.TaskRequest{
			SwarmID:              r.mission(a.Mission),
			TaskID:               a.Task,
			Description:          a.Description,
			UseAuction:           a.Auction,
			RequiredCapabilities: a.Capabilities,
			PreferredAgent:       a.Agent,
		})
		if err != nil {
			return "assign", a.Task, err
		}
		if res.AuctionID != "" {
			r.auctions[a.Task] = res.AuctionID
			return "assign", fmt.Sprintf("%s opened auction %s", a.Task, res.AuctionID), nil
		}
		return "assign", fmt.Sprintf("%s -> %s", a.Task, res.AgentID), nil

	case step.Bid != nil:
		b := step.Bid
		err := r.kit.PlaceBid(r.auctions[b.Task], b.Agent, b.Score)
		return "bid", fmt.Sprintf("%s bids %.2f on %s", b.Agent, b.Score, b.Task), err

	case step.Award != nil:
		winner, err := r.kit.AwardAuction(ctx, r.auctions[step.Award.Task])
		if err != nil {
			return "award", step.Award.Task, err
		}
		if winner == "" {
			return "award", fmt.Sprintf("%s cancelled: no bids", step.Award.Task), nil
		}
		return "award", fmt.Sprintf("%s -> %s", step.Award.Task, winner), nil

	case step.Complete != nil:
		c := step.Complete
		return "complete", fmt.Sprintf("%s finished %s", c.Agent, c.Task), r.kit.CompleteTask(c.Agent, c.Task)

	case step.Fail != nil:
		f := step.Fail
		res, err := r.kit.HandleFailure(ctx, f.Agent, f.Task, f.Fault)
		if err != nil {
			return "fail", f.Agent, err
		}
		detail := fmt.Sprintf("%s failed: %s", f.Agent, res.Action)
		if res.ReassignedTo != "" {
			detail += fmt.Sprintf(", %s -> %s", f.Task, res.ReassignedTo)
		}
		return "fail", detail, nil

	case step.Share != nil:
		sh := step.Share
		value, err := swarmkit.FromAny(sh.Value)
		if err != nil {
			return "share", sh.Key, err
		}
		confidence := sh.Confidence
		if confidence == 0 {
			confidence = 0.8
		}
		return "share", fmt.Sprintf("%s = %s", sh.Key, value), r.kit.ShareKnowledge(ctx, sh.Agent, sh.Key, value, confidence)

	case step.Vote != nil:
		v := step.Vote
		vtype := swarmkit.VoteType(v.Type)
		if vtype == "" {
			vtype = swarmkit.VoteMajority
		}
		res, err := r.kit.VoteOnDecision(ctx, swarmkit.DecisionRequest{
			SwarmID: r.mission(v.Mission),
			Topic:   v.Topic,
			Options: v.Options,
			Votes:   v.Votes,
			Type:    vtype,
			Quorum:  v.Quorum,
			Weights: v.Weights,
		})
		if err != nil {
			return "vote", v.Topic, err
		}
		switch {
		case res.Vetoed:
			return "vote", v.Topic + ": vetoed", nil
		case !res.Resolved:
			return "vote", v.Topic + ": unresolved", nil
		case res.Winner == "":
			return "vote", v.Topic + ": no winner", nil
		}
		return "vote", fmt.Sprintf("%s: %s", v.Topic, res.Winner), nil

	case step.Act != nil:
		r.kit.RecordAction(step.Act.Agent, step.Act.Action)
		return "act", fmt.Sprintf("%s %s", step.Act.Agent, step.Act.Action), nil

	case step.Mark != nil:
		m := step.Mark
		marker := r.kit.LeaveMarker(m.Agent, m.Location, swarmkit.PheromoneType(m.Type), m.Intensity, swarmkit.NullValue())
		return "mark", fmt.Sprintf("%s at %s (%.2f)", marker.Type, marker.Location, marker.Intensity), nil

	case step.Optimize != nil:
		res, err := r.kit.Optimize(ctx)
		if err != nil {
			return "optimize", "", err
		}
		return "optimize", fmt.Sprintf("%d moved, %d evaporated, %d patterns, %d healed",
			len(res.Rebalanced), res.DecayedMarkers, len(res.Patterns), len(res.Healed)), nil

	case step.Dissolve != nil:
		return "dissolve", *step.Dissolve, r.kit.DissolveMission(ctx, r.mission(*step.Dissolve))
	}
	return "", "", errors.New("empty step")
}

// mission resolves a mission name, falling back to the raw value so swarm
// ids work too.
func (r *runner) mission(name string) string {
	if id, ok := r.missions[name]; ok {
		return id
	}
	return name
}

func (r *runner) checkBehavior(b BehaviorSpec) (bool, error) {
	conditions, err := toValues(b.Conditions)
	if err != nil {
		return false, fmt.Errorf("behavior %s: %w", b.Name, err)
	}
	detector := r.kit.Internal().Emergent()
	detector.RegisterBehavior(b.Name, "", conditions)

	snap := r.kit.Snapshot()
	state := map[string]swarmkit.Value{
		"active_swarms":    swarmkit.NumberValue(float64(snap.ActiveSwarms)),
		"total_members":    swarmkit.NumberValue(float64(snap.TotalMembers)),
		"total_pheromones": swarmkit.NumberValue(float64(snap.TotalPheromones)),
		"fault_events":     swarmkit.NumberValue(float64(snap.FaultEvents)),
		"avg_workload":     swarmkit.NumberValue(snap.AvgWorkload),
		"health_score":     swarmkit.NumberValue(snap.HealthScore),
		"patterns":         swarmkit.NumberValue(float64(len(detector.Patterns()))),
	}
	return detector.CheckBehaviorTrigger(b.Name, state)
}

func toValues(raw map[string]interface{}) (map[string]swarmkit.Value, error) {
	out := make(map[string]swarmkit.Value, len(raw))
	for k, v := range raw {
		parsed, err := swarmkit.FromAny(v)
		if err != nil {
			return nil, err
		}
		out[k] = parsed
	}
	return out, nil
}

// pairsFromOutcomes returns the agent pairs named by "a+b" outcome keys.
func pairsFromOutcomes(outcomes map[string]float64) []swarmkit.Pair {
	keys := make([]string, 0, len(outcomes))
	for k := range outcomes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]swarmkit.Pair, 0)
	for _, k := range keys {
		if a, b, ok := strings.Cut(k, "+"); ok {
			pairs = append(pairs, swarmkit.Pair{A: a, B: b})
		}
	}
	return pairs
}
