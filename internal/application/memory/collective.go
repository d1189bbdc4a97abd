// Package memory provides CollectiveMemory: shared facts with confidence
// scores, contributor tracking and conflict resolution.
package memory

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/blackms/swarmkit/internal/domain/swarm"
	"github.com/blackms/swarmkit/internal/shared"
)

// MergeStrategy controls how Merge treats keys that already exist.
type MergeStrategy string

const (
	// MergeOverwrite always replaces the stored value.
	MergeOverwrite MergeStrategy = "overwrite"
	// MergeHigherConfidence accepts an incoming value only while the stored
	// confidence is below AcceptBelow, nudging confidence up each time.
	MergeHigherConfidence MergeStrategy = "higher_confidence"
)

const (
	// DefaultConfidence applies to keys first seen through Merge.
	DefaultConfidence = 0.5
	// AcceptBelow is the confidence under which merges still overwrite.
	AcceptBelow = 0.8
	// ConfidenceNudge is added on each accepted higher_confidence merge.
	ConfidenceNudge = 0.1
)

// CollectiveMemory owns the fact registry.
type CollectiveMemory struct {
	mu     sync.RWMutex
	logger *slog.Logger
	facts  map[string]*swarm.Fact
}

// NewCollectiveMemory creates an empty CollectiveMemory.
func NewCollectiveMemory(logger *slog.Logger) *CollectiveMemory {
	if logger == nil {
		logger = slog.Default()
	}
	return &CollectiveMemory{
		logger: logger.With("component", "collective_memory"),
		facts:  make(map[string]*swarm.Fact),
	}
}

// Store writes a fact. The value and confidence are replaced; the agent, if
// any, is added to the contributor set.
func (cm *CollectiveMemory) Store(key string, value shared.Value, agentID string, confidence float64) error {
	if key == "" {
		return shared.ErrInvalidKey.With("fact key must not be empty")
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.storeLocked(key, value, agentID, shared.ClampUnit(confidence))
	return nil
}

// Retrieve returns the value stored under key.
func (cm *CollectiveMemory) Retrieve(key string) (shared.Value, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	f, ok := cm.facts[key]
	if !ok {
		return shared.NullValue(), false
	}
	return f.Value.Clone(), true
}

// RetrieveWithConfidence returns the value and its confidence.
func (cm *CollectiveMemory) RetrieveWithConfidence(key string) (shared.Value, float64, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	f, ok := cm.facts[key]
	if !ok {
		return shared.NullValue(), 0, false
	}
	return f.Value.Clone(), f.Confidence, true
}

// Get returns the whole fact record.
func (cm *CollectiveMemory) Get(key string) (swarm.Fact, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	f, ok := cm.facts[key]
	if !ok {
		return swarm.Fact{}, shared.ErrFactNotFound.With("fact not found", "key", key)
	}
	return f.Clone(), nil
}

// Delete removes a fact and its metadata.
func (cm *CollectiveMemory) Delete(key string) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if _, ok := cm.facts[key]; !ok {
		return shared.ErrFactNotFound.With("fact not found", "key", key)
	}
	delete(cm.facts, key)
	return nil
}

// Search returns facts whose key contains pattern.
func (cm *CollectiveMemory) Search(pattern string) map[string]shared.Value {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	results := make(map[string]shared.Value)
	for key, f := range cm.facts {
		if strings.Contains(key, pattern) {
			results[key] = f.Value.Clone()
		}
	}
	return results
}

// Merge folds a batch of facts from one agent into memory and returns how
// many keys were accepted. New keys are always accepted.
func (cm *CollectiveMemory) Merge(incoming map[string]shared.Value, agentID string, strategy MergeStrategy) int {
	if strategy == "" {
		strategy = MergeHigherConfidence
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	keys := make([]string, 0, len(incoming))
	for k := range incoming {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	accepted := 0
	for _, key := range keys {
		if key == "" {
			continue
		}
		value := incoming[key]
		existing, ok := cm.facts[key]
		if !ok {
			cm.storeLocked(key, value, agentID, DefaultConfidence)
			accepted++
			continue
		}

		switch strategy {
		case MergeOverwrite:
			cm.storeLocked(key, value, agentID, existing.Confidence)
			accepted++
		default:
			if existing.Confidence < AcceptBelow {
				cm.storeLocked(key, value, agentID, shared.ClampUnit(existing.Confidence+ConfidenceNudge))
				accepted++
			}
		}
	}

	cm.logger.Debug("facts merged", "agentId", agentID, "strategy", strategy, "offered", len(incoming), "accepted", accepted)
	return accepted
}

// VoteOnFact settles a key by plurality over the stringified proposals.
// Confidence is the winning share of votes. Ties go to the lexically
// smallest stringified value; the stored value is the one proposed by the
// lexically first agent among the winners.
func (cm *CollectiveMemory) VoteOnFact(key string, proposals map[string]shared.Value) (shared.Value, float64, error) {
	if key == "" {
		return shared.NullValue(), 0, shared.ErrInvalidKey.With("fact key must not be empty")
	}
	if len(proposals) == 0 {
		return shared.NullValue(), 0, shared.ErrNoProposals.With("no proposals to vote on", "key", key)
	}

	agents := make([]string, 0, len(proposals))
	for agentID := range proposals {
		agents = append(agents, agentID)
	}
	sort.Strings(agents)

	counts := make(map[string]int)
	supporters := make(map[string][]string)
	for _, agentID := range agents {
		text := proposals[agentID].String()
		counts[text]++
		supporters[text] = append(supporters[text], agentID)
	}

	winner := ""
	best := -1
	for text, n := range counts {
		if n > best || (n == best && text < winner) {
			winner, best = text, n
		}
	}

	backers := supporters[winner]
	value := proposals[backers[0]]
	confidence := float64(best) / float64(len(proposals))

	cm.mu.Lock()
	cm.storeLocked(key, value, "", confidence)
	f := cm.facts[key]
	for _, agentID := range backers {
		f.AddContributor(agentID)
	}
	cm.mu.Unlock()

	return value.Clone(), confidence, nil
}

// Contributors returns the agents that contributed to a fact.
func (cm *CollectiveMemory) Contributors(key string) []string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	f, ok := cm.facts[key]
	if !ok {
		return nil
	}
	return shared.CloneStrings(f.Contributors)
}

// HighConfidence returns facts whose confidence is at least threshold.
func (cm *CollectiveMemory) HighConfidence(threshold float64) map[string]shared.Value {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	results := make(map[string]shared.Value)
	for key, f := range cm.facts {
		if f.Confidence >= threshold {
			results[key] = f.Value.Clone()
		}
	}
	return results
}

// Size returns the number of facts.
func (cm *CollectiveMemory) Size() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.facts)
}

// AvgConfidence returns the mean confidence, 0 when empty.
func (cm *CollectiveMemory) AvgConfidence() float64 {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if len(cm.facts) == 0 {
		return 0
	}
	total := 0.0
	for _, f := range cm.facts {
		total += f.Confidence
	}
	return total / float64(len(cm.facts))
}

func (cm *CollectiveMemory) storeLocked(key string, value shared.Value, agentID string, confidence float64) {
	f, ok := cm.facts[key]
	if !ok {
		f = &swarm.Fact{Key: key, Contributors: make([]string, 0)}
		cm.facts[key] = f
	}
	f.Value = value.Clone()
	f.Confidence = confidence
	f.UpdatedAt = time.Now()
	f.AddContributor(agentID)
}
