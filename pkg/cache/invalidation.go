package cache

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Invalidation sources, used as metric labels.
const (
	sourcePattern = "pattern"
	sourceTags    = "tags"
	sourceRule    = "rule"
)

// InvalidationRule removes entries of a strategy when a matching mutation
// event is triggered.
type InvalidationRule struct {
	ID         string `json:"id"`
	StrategyID string `json:"strategyId"`

	// Event is a glob over event names, e.g. "diary.*".
	Event string `json:"event"`

	// Pattern is a key glob. Empty means the rule only uses Tags.
	Pattern string `json:"pattern,omitempty"`

	// Tags are removed with OR semantics.
	Tags []string `json:"tags,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// MatchPattern reports whether key matches a glob pattern in which '*'
// matches any substring (including the empty one). All other characters
// match themselves; matching is case sensitive. An empty pattern matches
// nothing.
func MatchPattern(pattern, key string) bool {
	if pattern == "" {
		return false
	}

	p, k := 0, 0
	star, mark := -1, 0
	for k < len(key) {
		switch {
		case p < len(pattern) && pattern[p] == '*':
			star, mark = p, k
			p++
		case p < len(pattern) && pattern[p] == key[k]:
			p++
			k++
		case star >= 0:
			// Let the last '*' absorb one more byte and retry.
			p = star + 1
			mark++
			k = mark
		default:
			return false
		}
	}
	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}

// Invalidate removes every live entry of the strategy whose key matches
// pattern and returns how many were removed. An empty pattern removes
// nothing; an unknown strategy yields 0.
func (m *Manager) Invalidate(ctx context.Context, strategyID, pattern string) int {
	if pattern == "" {
		return 0
	}
	return m.invalidate(ctx, strategyID, sourcePattern, func(e *CacheEntry) bool {
		return MatchPattern(pattern, e.Key)
	})
}

// InvalidateByTags removes every live entry of the strategy carrying at
// least one of tags and returns how many were removed.
func (m *Manager) InvalidateByTags(ctx context.Context, strategyID string, tags []string) int {
	if len(tags) == 0 {
		return 0
	}
	return m.invalidate(ctx, strategyID, sourceTags, func(e *CacheEntry) bool {
		return e.HasAnyTag(tags)
	})
}

func (m *Manager) invalidate(ctx context.Context, strategyID, source string, match func(*CacheEntry) bool) int {
	p := m.partition(strategyID)
	if p == nil {
		return 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := m.now()
	var removed, expired []*CacheEntry
	for _, e := range p.entries {
		if !match(e) {
			continue
		}
		if e.IsExpired(now) {
			expired = append(expired, e)
			continue
		}
		removed = append(removed, e)
	}

	for _, e := range expired {
		p.expire(e)
	}
	for _, e := range removed {
		p.drop(e)
		p.stats.Invalidations++
	}
	if len(removed) > 0 {
		CacheInvalidations.WithLabelValues(strategyID, source).Add(float64(len(removed)))
	}
	m.removeFromBackend(ctx, strategyID, append(removed, expired...))

	m.logger.Debug().
		Str("strategy", strategyID).
		Str("source", source).
		Int("removed", len(removed)).
		Msg("Entries invalidated")

	return len(removed)
}

// AddInvalidationRule registers a rule. The strategy must exist and the
// rule needs an event plus a pattern or tags.
func (m *Manager) AddInvalidationRule(rule InvalidationRule) (InvalidationRule, error) {
	rule.Event = strings.TrimSpace(rule.Event)
	if rule.Event == "" {
		return InvalidationRule{}, fmt.Errorf("%w: rule event is required", ErrValidation)
	}
	if rule.Pattern == "" && len(rule.Tags) == 0 {
		return InvalidationRule{}, fmt.Errorf("%w: rule needs a pattern or tags", ErrValidation)
	}
	if m.partition(rule.StrategyID) == nil {
		return InvalidationRule{}, fmt.Errorf("%w: strategy %q", ErrNotFound, rule.StrategyID)
	}

	if rule.ID == "" {
		rule.ID = m.newID()
	}
	rule.CreatedAt = m.now()
	rule.Tags = append([]string(nil), rule.Tags...)

	m.rulesMu.Lock()
	defer m.rulesMu.Unlock()

	for _, r := range m.rules {
		if r.ID == rule.ID {
			return InvalidationRule{}, fmt.Errorf("%w: rule %q already exists", ErrConflict, rule.ID)
		}
	}
	m.rules = append(m.rules, rule)

	m.logger.Info().
		Str("rule", rule.ID).
		Str("strategy", rule.StrategyID).
		Str("event", rule.Event).
		Msg("Invalidation rule added")

	return rule, nil
}

// InvalidationRules returns the registered rules in registration order.
func (m *Manager) InvalidationRules() []InvalidationRule {
	m.rulesMu.RLock()
	defer m.rulesMu.RUnlock()

	out := make([]InvalidationRule, len(m.rules))
	copy(out, m.rules)
	return out
}

// TriggerInvalidation fires every rule whose event glob matches event and
// returns the total number of entries removed.
func (m *Manager) TriggerInvalidation(ctx context.Context, event string) int {
	total := 0
	for _, r := range m.InvalidationRules() {
		if !MatchPattern(r.Event, event) {
			continue
		}
		rule := r
		total += m.invalidate(ctx, rule.StrategyID, sourceRule, func(e *CacheEntry) bool {
			return MatchPattern(rule.Pattern, e.Key) || e.HasAnyTag(rule.Tags)
		})
	}
	return total
}
