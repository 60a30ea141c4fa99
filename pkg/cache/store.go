package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// SetOptions carries the optional arguments of Set.
type SetOptions struct {
	// TTL overrides the strategy default when non-nil. Zero means no expiry.
	TTL *time.Duration

	// Tags label the entry for InvalidateByTags.
	Tags []string
}

// Get returns the live value stored under key.
// The second result is false when the strategy or key is unknown, the entry
// has expired (it is removed), or the backend could not produce the value.
// Every call records exactly one hit or miss on a known strategy.
func (m *Manager) Get(ctx context.Context, strategyID, key string) (any, bool) {
	p := m.partition(strategyID)
	if p == nil {
		return nil, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := m.now()
	e, ok := p.entries[key]
	if !ok {
		p.miss()
		return nil, false
	}

	if e.IsExpired(now) {
		p.expire(e)
		m.removeFromBackend(ctx, strategyID, []*CacheEntry{e})
		p.miss()
		m.logger.Debug().Str("strategy", strategyID).Str("key", key).Msg("Entry expired on read")
		return nil, false
	}

	value := e.Value
	if m.backend != nil {
		v, err := m.backend.Load(ctx, m.backendKey(strategyID, key))
		if err != nil {
			if errors.Is(err, ErrBackendMiss) {
				// The shared store no longer holds the value.
				p.drop(e)
			} else {
				BackendErrors.WithLabelValues("load").Inc()
				m.logger.Warn().
					Err(err).
					Str("strategy", strategyID).
					Str("key", key).
					Msg("Backend load failed, serving miss")
			}
			p.miss()
			return nil, false
		}
		value = v
	}

	e.access = p.touch()
	e.LastAccessedAt = now
	e.Hits++
	p.stats.Hits++
	CacheHits.WithLabelValues(strategyID).Inc()

	return value, true
}

// Set stores value under key, replacing any existing entry.
//
// Returns ErrValidation for an empty key or negative TTL, ErrNotFound for an
// unknown strategy and ErrCapacity when the strategy is full and nothing can
// be evicted. On error nothing is inserted.
func (m *Manager) Set(ctx context.Context, strategyID, key string, value any, opts SetOptions) error {
	if key == "" {
		return fmt.Errorf("%w: key is required", ErrValidation)
	}
	if opts.TTL != nil && *opts.TTL < 0 {
		return fmt.Errorf("%w: ttl cannot be negative (got %s)", ErrValidation, *opts.TTL)
	}

	p := m.partition(strategyID)
	if p == nil {
		return fmt.Errorf("%w: strategy %q", ErrNotFound, strategyID)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := m.now()
	s := p.strategy

	ttl := s.DefaultTTL
	if opts.TTL != nil {
		ttl = *opts.TTL
	}

	// Only a new key can push the strategy over capacity.
	var victims []*CacheEntry
	if _, exists := p.entries[key]; !exists && len(p.entries) >= s.MaxEntries {
		m.removeFromBackend(ctx, strategyID, p.purgeExpired(now))

		need := len(p.entries) - s.MaxEntries + 1
		var err error
		victims, err = selectVictims(s.EvictionPolicy, p.entries, need)
		if err != nil {
			CacheRejectedSets.WithLabelValues(strategyID).Inc()
			m.logger.Warn().
				Str("strategy", strategyID).
				Str("key", key).
				Str("policy", string(s.EvictionPolicy)).
				Msg("Set refused, no evictable entry")
			return fmt.Errorf("strategy %q: %w", strategyID, err)
		}
	}

	entry := &CacheEntry{
		Key:            key,
		StrategyID:     strategyID,
		Tags:           tagSet(opts.Tags),
		CreatedAt:      now,
		LastAccessedAt: now,
	}
	if ttl > 0 {
		entry.ExpiresAt = now.Add(ttl)
	}

	if m.backend != nil {
		if err := m.backend.Store(ctx, m.backendKey(strategyID, key), value, ttl); err != nil {
			BackendErrors.WithLabelValues("store").Inc()
			return fmt.Errorf("store value: %w", err)
		}
	} else {
		entry.Value = value
	}

	m.evict(p, victims)
	m.removeFromBackend(ctx, strategyID, victims)

	entry.seq = p.touch()
	entry.access = entry.seq
	p.entries[key] = entry
	p.stats.Sets++
	CacheEntries.WithLabelValues(strategyID).Set(float64(len(p.entries)))

	return nil
}

// Delete removes the entry stored under key.
// Returns true only if a live entry was removed.
func (m *Manager) Delete(ctx context.Context, strategyID, key string) bool {
	p := m.partition(strategyID)
	if p == nil {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[key]
	if !ok {
		return false
	}

	if e.IsExpired(m.now()) {
		p.expire(e)
		m.removeFromBackend(ctx, strategyID, []*CacheEntry{e})
		return false
	}

	p.drop(e)
	p.stats.Deletes++
	m.removeFromBackend(ctx, strategyID, []*CacheEntry{e})
	return true
}

// Entries returns snapshots of the live entries of one strategy, or of all
// strategies when strategyID is empty. Values are not included.
func (m *Manager) Entries(strategyID string) []EntryInfo {
	var parts []*partition
	if strategyID == "" {
		parts = m.snapshotPartitions()
	} else if p := m.partition(strategyID); p != nil {
		parts = []*partition{p}
	}

	now := m.now()
	var out []EntryInfo
	for _, p := range parts {
		p.mu.Lock()
		batch := make([]*CacheEntry, 0, len(p.entries))
		for _, e := range p.entries {
			if !e.IsExpired(now) {
				batch = append(batch, e)
			}
		}
		sortBySeq(batch)
		for _, e := range batch {
			out = append(out, e.info())
		}
		p.mu.Unlock()
	}
	return out
}

// PurgeExpired removes every expired entry across all strategies and
// returns how many were removed.
func (m *Manager) PurgeExpired(ctx context.Context) int {
	total := 0
	now := m.now()
	for _, p := range m.snapshotPartitions() {
		p.mu.Lock()
		removed := p.purgeExpired(now)
		m.removeFromBackend(ctx, p.strategy.ID, removed)
		p.mu.Unlock()
		total += len(removed)
	}
	if total > 0 {
		m.logger.Debug().Int("removed", total).Msg("Purged expired entries")
	}
	return total
}

// evict removes victims chosen by the eviction policy. Caller holds p.mu.
func (m *Manager) evict(p *partition, victims []*CacheEntry) {
	for _, v := range victims {
		p.drop(v)
		p.stats.Evictions++
		CacheEvictions.WithLabelValues(p.strategy.ID, string(p.strategy.EvictionPolicy)).Inc()
		m.logger.Debug().
			Str("strategy", p.strategy.ID).
			Str("key", v.Key).
			Msg("Entry evicted")
	}
}

func (p *partition) miss() {
	p.stats.Misses++
	CacheMisses.WithLabelValues(p.strategy.ID).Inc()
}
