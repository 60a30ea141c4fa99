package cache

import (
	"context"
	"fmt"
	"time"
)

// SuggestionKind enumerates the changes the advisor can propose.
type SuggestionKind string

const (
	KindIncreaseCapacity SuggestionKind = "increase_capacity"
	KindDecreaseCapacity SuggestionKind = "decrease_capacity"
	KindIncreaseTTL      SuggestionKind = "increase_ttl"
	KindShortenTTL       SuggestionKind = "shorten_ttl"
)

// Impact is the advisor's estimate of how much a suggestion matters.
type Impact string

const (
	ImpactLow    Impact = "low"
	ImpactMedium Impact = "medium"
	ImpactHigh   Impact = "high"
)

// AdvisorConfig holds the thresholds of the optimization rules.
type AdvisorConfig struct {
	// MinSamples is the number of reads (or sets, for the TTL rule) a
	// strategy needs before any rule fires.
	MinSamples int64 `mapstructure:"min_samples"`

	// LowHitRate is the hit rate below which the strategy is underperforming.
	LowHitRate float64 `mapstructure:"low_hit_rate"`

	// EvictionRatio is the evictions/reads ratio above which capacity is
	// considered too small.
	EvictionRatio float64 `mapstructure:"eviction_ratio"`

	// UnderutilizedRatio is the fill ratio below which capacity is
	// considered too large.
	UnderutilizedRatio float64 `mapstructure:"underutilized_ratio"`

	// InvalidationRatio is the invalidations/sets ratio above which the
	// default TTL outlives the data.
	InvalidationRatio float64 `mapstructure:"invalidation_ratio"`
}

// DefaultAdvisorConfig returns the default thresholds.
func DefaultAdvisorConfig() AdvisorConfig {
	return AdvisorConfig{
		MinSamples:         100,
		LowHitRate:         0.5,
		EvictionRatio:      0.1,
		UnderutilizedRatio: 0.25,
		InvalidationRatio:  0.5,
	}
}

// OptimizationSuggestion is a proposed strategy change. Single use.
type OptimizationSuggestion struct {
	ID              string         `json:"id"`
	StrategyID      string         `json:"strategyId"`
	Kind            SuggestionKind `json:"kind"`
	Rationale       string         `json:"rationale"`
	EstimatedImpact Impact         `json:"estimatedImpact"`
	Change          StrategyUpdate `json:"change"`
	CreatedAt       time.Time      `json:"createdAt"`
}

// GenerateOptimizations evaluates the rules against a snapshot of every
// strategy's stats and replaces all pending suggestions with the result.
func (m *Manager) GenerateOptimizations() []OptimizationSuggestion {
	now := m.now()

	var out []OptimizationSuggestion
	for _, p := range m.snapshotPartitions() {
		p.mu.Lock()
		s, st := p.strategy, p.snapshot()
		p.mu.Unlock()

		for _, sg := range m.advisor.evaluate(s, st) {
			sg.ID = m.newID()
			sg.StrategyID = s.ID
			sg.CreatedAt = now
			out = append(out, sg)
		}
	}

	m.suggestionsMu.Lock()
	m.suggestions = out
	m.suggestionsMu.Unlock()

	m.logger.Info().Int("suggestions", len(out)).Msg("Optimizations generated")

	return append([]OptimizationSuggestion(nil), out...)
}

// Optimizations returns the pending suggestions.
func (m *Manager) Optimizations() []OptimizationSuggestion {
	m.suggestionsMu.Lock()
	defer m.suggestionsMu.Unlock()
	return append([]OptimizationSuggestion(nil), m.suggestions...)
}

// ApplyOptimization applies a pending suggestion to its strategy and
// discards it. Returns false for an unknown id or a strategy that no
// longer accepts the change.
func (m *Manager) ApplyOptimization(ctx context.Context, id string) bool {
	m.suggestionsMu.Lock()
	idx := -1
	for i, sg := range m.suggestions {
		if sg.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.suggestionsMu.Unlock()
		return false
	}
	sg := m.suggestions[idx]
	m.suggestions = append(m.suggestions[:idx:idx], m.suggestions[idx+1:]...)
	m.suggestionsMu.Unlock()

	ok, err := m.UpdateStrategy(ctx, sg.StrategyID, sg.Change)
	if err != nil || !ok {
		m.logger.Warn().
			Err(err).
			Str("suggestion", sg.ID).
			Str("strategy", sg.StrategyID).
			Msg("Optimization could not be applied")
		return false
	}

	OptimizationsApplied.WithLabelValues(string(sg.Kind)).Inc()
	m.logger.Info().
		Str("suggestion", sg.ID).
		Str("strategy", sg.StrategyID).
		Str("kind", string(sg.Kind)).
		Msg("Optimization applied")

	return true
}

// evaluate runs the rules in order and keeps the first suggestion of each
// kind.
func (c AdvisorConfig) evaluate(s Strategy, st Stats) []OptimizationSuggestion {
	var out []OptimizationSuggestion
	seen := make(map[SuggestionKind]bool)
	add := func(sg OptimizationSuggestion) {
		if seen[sg.Kind] {
			return
		}
		seen[sg.Kind] = true
		out = append(out, sg)
	}

	samples := st.Samples()
	full := st.CurrentSize >= s.MaxEntries

	// Rule 1: low hit rate.
	if samples >= c.MinSamples && st.HitRate < c.LowHitRate {
		switch {
		case s.DefaultTTL > 0 && st.Expirations*2 >= st.Misses:
			add(increaseTTL(s, st))
		case full:
			add(increaseCapacity(s, fmt.Sprintf(
				"hit rate %.0f%% with the strategy full at %d entries",
				st.HitRate*100, s.MaxEntries)))
		case float64(st.CurrentSize) < c.UnderutilizedRatio*float64(s.MaxEntries):
			add(decreaseCapacity(s, st))
		}
	}

	// Rule 2: heavy eviction.
	if samples >= c.MinSamples && float64(st.Evictions) > c.EvictionRatio*float64(samples) {
		add(increaseCapacity(s, fmt.Sprintf(
			"%d evictions over %d reads", st.Evictions, samples)))
	}

	// Rule 3: entries invalidated long before they expire.
	if st.Sets >= c.MinSamples && s.DefaultTTL > 0 &&
		float64(st.Invalidations) > c.InvalidationRatio*float64(st.Sets) {
		ttl := s.DefaultTTL / 2
		if ttl < time.Millisecond {
			ttl = time.Millisecond
		}
		add(OptimizationSuggestion{
			Kind: KindShortenTTL,
			Rationale: fmt.Sprintf("%d of %d sets were invalidated before expiring",
				st.Invalidations, st.Sets),
			EstimatedImpact: ImpactLow,
			Change:          StrategyUpdate{DefaultTTL: &ttl},
		})
	}

	return out
}

func increaseTTL(s Strategy, st Stats) OptimizationSuggestion {
	ttl := s.DefaultTTL * 2
	return OptimizationSuggestion{
		Kind: KindIncreaseTTL,
		Rationale: fmt.Sprintf("hit rate %.0f%%, %d of %d misses caused by expiry",
			st.HitRate*100, st.Expirations, st.Misses),
		EstimatedImpact: ImpactHigh,
		Change:          StrategyUpdate{DefaultTTL: &ttl},
	}
}

func increaseCapacity(s Strategy, rationale string) OptimizationSuggestion {
	n := s.MaxEntries * 2
	return OptimizationSuggestion{
		Kind:            KindIncreaseCapacity,
		Rationale:       rationale,
		EstimatedImpact: ImpactMedium,
		Change:          StrategyUpdate{MaxEntries: &n},
	}
}

func decreaseCapacity(s Strategy, st Stats) OptimizationSuggestion {
	n := st.CurrentSize * 2
	if n < 1 {
		n = 1
	}
	return OptimizationSuggestion{
		Kind: KindDecreaseCapacity,
		Rationale: fmt.Sprintf("only %d of %d slots used with hit rate %.0f%%",
			st.CurrentSize, s.MaxEntries, st.HitRate*100),
		EstimatedImpact: ImpactLow,
		Change:          StrategyUpdate{MaxEntries: &n},
	}
}
