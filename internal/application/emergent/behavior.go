// Package emergent detects swarm-level patterns in agent action streams:
// convergent actions, shared action sequences, pairwise synergy and
// condition-triggered behaviors.
package emergent

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/blackms/swarmkit/internal/shared"
)

// PatternType identifies the kind of a detected pattern.
type PatternType string

const (
	PatternConvergent PatternType = "convergent_behavior"
	PatternSequence   PatternType = "sequence_pattern"
)

// Config holds emergent behavior settings.
type Config struct {
	// Window is the number of actions kept per agent.
	Window int
	// RecentWindow is the tail of each history inspected by DetectPatterns.
	RecentWindow int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{Window: 100, RecentWindow: 10}
}

// WithDefaults replaces non-positive windows with the defaults.
func (c Config) WithDefaults() Config {
	defaults := DefaultConfig()
	if c.Window <= 0 {
		c.Window = defaults.Window
	}
	if c.RecentWindow <= 0 {
		c.RecentWindow = defaults.RecentWindow
	}
	return c
}

// Pattern is one detected pattern.
type Pattern struct {
	Type     PatternType `json:"type"`
	Action   string      `json:"action,omitempty"`
	Sequence []string    `json:"sequence,omitempty"`
	Agents   []string    `json:"agents"`
	Count    int         `json:"count"`
	// Ratio is Count divided by the number of tracked agents.
	Ratio float64 `json:"ratio"`
}

// Pair names two agents whose joint outcome is compared to their solo ones.
type Pair struct {
	A string `json:"a"`
	B string `json:"b"`
}

// Synergy reports a super-additive pair.
type Synergy struct {
	Pair     Pair    `json:"pair"`
	Combined float64 `json:"combined"`
	Expected float64 `json:"expected"`
	Ratio    float64 `json:"synergy_ratio"`
}

// Behavior is a named set of trigger conditions.
type Behavior struct {
	Name         string                  `json:"name"`
	Description  string                  `json:"description,omitempty"`
	Conditions   map[string]shared.Value `json:"conditions"`
	TriggerCount int                     `json:"trigger_count"`
}

// Detector tracks action windows, detected patterns and behaviors.
type Detector struct {
	mu        sync.RWMutex
	config    Config
	logger    *slog.Logger
	actions   map[string][]string
	agents    []string
	patterns  []Pattern
	synergies []Synergy
	behaviors map[string]*Behavior
}

// New creates a new Detector.
func New(config Config, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		config:    config.WithDefaults(),
		logger:    logger.With("component", "emergent"),
		actions:   make(map[string][]string),
		agents:    make([]string, 0),
		behaviors: make(map[string]*Behavior),
	}
}

// RecordAction appends an action to the agent's sliding window.
func (d *Detector) RecordAction(agentID, action string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	history, ok := d.actions[agentID]
	if !ok {
		d.agents = append(d.agents, agentID)
	}
	history = append(history, action)
	if over := len(history) - d.config.Window; over > 0 {
		history = append([]string(nil), history[over:]...)
	}
	d.actions[agentID] = history
}

// DetectPatterns scans recent histories for convergent actions and shared
// bigrams. The result replaces the previously detected patterns.
func (d *Detector) DetectPatterns() []Pattern {
	d.mu.Lock()
	defer d.mu.Unlock()

	patterns := append(d.convergentLocked(), d.sequencesLocked()...)
	d.patterns = patterns

	if len(patterns) > 0 {
		d.logger.Debug("patterns detected", "count", len(patterns), "agents", len(d.agents))
	}
	return clonePatterns(patterns)
}

// convergentLocked reports actions done by at least max(2, half of tracked
// agents) within their recent window.
func (d *Detector) convergentLocked() []Pattern {
	n := len(d.agents)
	if n == 0 {
		return nil
	}
	minAgents := 0.5 * float64(n)
	if minAgents < 2 {
		minAgents = 2
	}

	doers := make(map[string][]string)
	for _, agentID := range d.agents {
		seen := make(map[string]bool)
		for _, action := range d.recentLocked(agentID) {
			if !seen[action] {
				seen[action] = true
				doers[action] = append(doers[action], agentID)
			}
		}
	}

	patterns := make([]Pattern, 0)
	for action, agents := range doers {
		if float64(len(agents)) >= minAgents {
			patterns = append(patterns, Pattern{
				Type:   PatternConvergent,
				Action: action,
				Agents: agents,
				Count:  len(agents),
				Ratio:  float64(len(agents)) / float64(n),
			})
		}
	}
	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Count != patterns[j].Count {
			return patterns[i].Count > patterns[j].Count
		}
		return patterns[i].Action < patterns[j].Action
	})
	return patterns
}

// sequencesLocked reports consecutive action pairs shared by two or more
// agents.
func (d *Detector) sequencesLocked() []Pattern {
	n := len(d.agents)
	if n < 2 {
		return nil
	}

	type bigram struct{ first, second string }
	sharers := make(map[bigram][]string)
	for _, agentID := range d.agents {
		recent := d.recentLocked(agentID)
		seen := make(map[bigram]bool)
		for i := 1; i < len(recent); i++ {
			b := bigram{recent[i-1], recent[i]}
			if !seen[b] {
				seen[b] = true
				sharers[b] = append(sharers[b], agentID)
			}
		}
	}

	patterns := make([]Pattern, 0)
	for b, agents := range sharers {
		if len(agents) >= 2 {
			patterns = append(patterns, Pattern{
				Type:     PatternSequence,
				Sequence: []string{b.first, b.second},
				Agents:   agents,
				Count:    len(agents),
				Ratio:    float64(len(agents)) / float64(n),
			})
		}
	}
	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Count != patterns[j].Count {
			return patterns[i].Count > patterns[j].Count
		}
		return strings.Join(patterns[i].Sequence, ">") < strings.Join(patterns[j].Sequence, ">")
	})
	return patterns
}

func (d *Detector) recentLocked(agentID string) []string {
	history := d.actions[agentID]
	if len(history) > d.config.RecentWindow {
		return history[len(history)-d.config.RecentWindow:]
	}
	return history
}

// DetectSynergy compares each pair's joint outcome with the sum of its solo
// outcomes. Joint outcomes are looked up as "a+b", then "b+a". Pairs with a
// missing joint outcome or a non-positive solo sum are skipped.
func (d *Detector) DetectSynergy(pairs []Pair, outcomes map[string]float64) []Synergy {
	synergies := make([]Synergy, 0)
	for _, p := range pairs {
		combined, ok := outcomes[p.A+"+"+p.B]
		if !ok {
			combined, ok = outcomes[p.B+"+"+p.A]
		}
		if !ok {
			continue
		}
		expected := outcomes[p.A] + outcomes[p.B]
		if expected <= 0 || combined <= expected {
			continue
		}
		synergies = append(synergies, Synergy{
			Pair:     p,
			Combined: combined,
			Expected: expected,
			Ratio:    combined / expected,
		})
	}

	d.mu.Lock()
	d.synergies = synergies
	d.mu.Unlock()

	out := make([]Synergy, len(synergies))
	copy(out, synergies)
	return out
}

// RegisterBehavior adds or replaces a named behavior.
func (d *Detector) RegisterBehavior(name, description string, conditions map[string]shared.Value) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.behaviors[name] = &Behavior{
		Name:        name,
		Description: description,
		Conditions:  shared.CloneValueMap(conditions),
	}
}

// CheckBehaviorTrigger reports whether every condition of the behavior holds
// against state. Numeric conditions match when the state value is at least
// the condition; other kinds require equality. Each positive check increments
// the trigger count.
func (d *Detector) CheckBehaviorTrigger(name string, state map[string]shared.Value) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, ok := d.behaviors[name]
	if !ok {
		return false, shared.ErrBehaviorUnknown.With("behavior not registered", "behavior", name)
	}

	for key, want := range b.Conditions {
		got, present := state[key]
		if !present || !conditionHolds(want, got) {
			return false, nil
		}
	}

	b.TriggerCount++
	d.logger.Debug("behavior triggered", "behavior", name, "count", b.TriggerCount)
	return true, nil
}

func conditionHolds(want, got shared.Value) bool {
	if threshold, ok := want.AsNumber(); ok {
		if v, ok := got.AsNumber(); ok {
			return v >= threshold
		}
		return false
	}
	return want.Equal(got)
}

// Behavior returns a snapshot of a registered behavior.
func (d *Detector) Behavior(name string) (Behavior, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	b, ok := d.behaviors[name]
	if !ok {
		return Behavior{}, shared.ErrBehaviorUnknown.With("behavior not registered", "behavior", name)
	}
	out := *b
	out.Conditions = shared.CloneValueMap(b.Conditions)
	return out, nil
}

// SelfOrganizationScore averages three capped ratios: detected patterns out
// of 10, synergies out of 5 and distinct actions out of 20.
func (d *Detector) SelfOrganizationScore() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()

	distinct := make(map[string]bool)
	for _, history := range d.actions {
		for _, action := range history {
			distinct[action] = true
		}
	}

	patternRatio := capped(float64(len(d.patterns)) / 10)
	synergyRatio := capped(float64(len(d.synergies)) / 5)
	diversity := capped(float64(len(distinct)) / 20)
	return (patternRatio + synergyRatio + diversity) / 3
}

// CollectiveIntelligenceScore divides the collective score by the average
// individual score. Values above 1 indicate synergy; it is 0 without
// individual scores.
func (d *Detector) CollectiveIntelligenceScore(individual map[string]float64, collective float64) float64 {
	if len(individual) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range individual {
		sum += s
	}
	avg := sum / float64(len(individual))
	if avg == 0 {
		return 0
	}
	return collective / avg
}

// Patterns returns the most recently detected patterns.
func (d *Detector) Patterns() []Pattern {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return clonePatterns(d.patterns)
}

// History returns a copy of an agent's action window.
func (d *Detector) History(agentID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return shared.CloneStrings(d.actions[agentID])
}

// TrackedAgents returns the number of agents with recorded actions.
func (d *Detector) TrackedAgents() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.agents)
}

// BehaviorCount returns the number of registered behaviors.
func (d *Detector) BehaviorCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.behaviors)
}

func capped(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}

func clonePatterns(patterns []Pattern) []Pattern {
	out := make([]Pattern, len(patterns))
	for i, p := range patterns {
		p.Agents = shared.CloneStrings(p.Agents)
		p.Sequence = shared.CloneStrings(p.Sequence)
		out[i] = p
	}
	return out
}
