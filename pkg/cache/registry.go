package cache

import (
	"context"
	"fmt"
)

// CreateStrategy registers a new strategy.
// Returns ErrValidation for a malformed config and ErrConflict if the id
// is already taken.
func (m *Manager) CreateStrategy(cfg StrategyConfig) (Strategy, error) {
	if err := cfg.normalize(); err != nil {
		return Strategy{}, err
	}
	if cfg.ID == "" {
		cfg.ID = m.newID()
	}

	now := m.now()
	s := Strategy{
		ID:             cfg.ID,
		MaxEntries:     cfg.MaxEntries,
		DefaultTTL:     cfg.DefaultTTL,
		EvictionPolicy: cfg.EvictionPolicy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.partitions[s.ID]; exists {
		return Strategy{}, fmt.Errorf("%w: strategy %q already exists", ErrConflict, s.ID)
	}

	m.partitions[s.ID] = &partition{
		strategy: s,
		entries:  make(map[string]*CacheEntry),
		stats:    Stats{StrategyID: s.ID},
	}
	m.order = append(m.order, s.ID)
	CacheEntries.WithLabelValues(s.ID).Set(0)

	m.logger.Info().
		Str("strategy", s.ID).
		Int("max_entries", s.MaxEntries).
		Dur("default_ttl", s.DefaultTTL).
		Str("policy", string(s.EvictionPolicy)).
		Msg("Strategy created")

	return s, nil
}

// GetStrategy returns the strategy with the given id.
func (m *Manager) GetStrategy(id string) (Strategy, bool) {
	p := m.partition(id)
	if p == nil {
		return Strategy{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.strategy, true
}

// ListStrategies returns all strategies in creation order.
func (m *Manager) ListStrategies() []Strategy {
	parts := m.snapshotPartitions()
	out := make([]Strategy, 0, len(parts))
	for _, p := range parts {
		p.mu.Lock()
		out = append(out, p.strategy)
		p.mu.Unlock()
	}
	return out
}

// UpdateStrategy applies the non-nil fields of upd.
// Returns false if the strategy does not exist. Stored entries keep their
// expiry. Lowering MaxEntries below the current size evicts the surplus
// under the (new) policy; ErrCapacity is returned and nothing changes,
// expired entries included, when the policy cannot free enough entries.
func (m *Manager) UpdateStrategy(ctx context.Context, id string, upd StrategyUpdate) (bool, error) {
	if err := upd.validate(); err != nil {
		return false, err
	}

	p := m.partition(id)
	if p == nil {
		return false, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	next := p.strategy
	upd.applyTo(&next)

	if surplus := len(p.entries) - next.MaxEntries; surplus > 0 {
		// Expired entries are evictable under every policy, so this check
		// also holds after the purge below.
		if n := evictable(next.EvictionPolicy, p.entries); n < surplus {
			return false, fmt.Errorf("strategy %q: %w: %d evictable entries, need %d", id, ErrCapacity, n, surplus)
		}
		m.removeFromBackend(ctx, id, p.purgeExpired(m.now()))

		victims, err := selectVictims(next.EvictionPolicy, p.entries, len(p.entries)-next.MaxEntries)
		if err != nil {
			return false, fmt.Errorf("strategy %q: %w", id, err)
		}
		m.evict(p, victims)
		m.removeFromBackend(ctx, id, victims)
	}

	next.UpdatedAt = m.now()
	p.strategy = next

	m.logger.Info().
		Str("strategy", id).
		Int("max_entries", next.MaxEntries).
		Dur("default_ttl", next.DefaultTTL).
		Str("policy", string(next.EvictionPolicy)).
		Msg("Strategy updated")

	return true, nil
}
