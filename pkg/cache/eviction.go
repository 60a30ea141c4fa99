package cache

import (
	"fmt"
	"sort"
)

// selectVictims returns the n entries the policy would evict first.
// Returns ErrCapacity if fewer than n entries are evictable, which only
// happens under PolicyTTL when entries carry no TTL.
func selectVictims(policy EvictionPolicy, entries map[string]*CacheEntry, n int) ([]*CacheEntry, error) {
	if n <= 0 {
		return nil, nil
	}

	candidates := make([]*CacheEntry, 0, len(entries))
	for _, e := range entries {
		if evictableUnder(policy, e) {
			candidates = append(candidates, e)
		}
	}

	if len(candidates) < n {
		return nil, fmt.Errorf("%w: %d evictable entries, need %d", ErrCapacity, len(candidates), n)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return evictsBefore(policy, candidates[i], candidates[j])
	})

	return candidates[:n], nil
}

// evictableUnder reports whether policy may evict e.
func evictableUnder(policy EvictionPolicy, e *CacheEntry) bool {
	return policy != PolicyTTL || e.HasTTL()
}

// evictable counts the entries policy may evict.
func evictable(policy EvictionPolicy, entries map[string]*CacheEntry) int {
	n := 0
	for _, e := range entries {
		if evictableUnder(policy, e) {
			n++
		}
	}
	return n
}

// evictsBefore orders two entries for eviction. Ties fall back to insertion
// order so the choice is deterministic.
func evictsBefore(policy EvictionPolicy, a, b *CacheEntry) bool {
	switch policy {
	case PolicyLFU:
		if a.Hits != b.Hits {
			return a.Hits < b.Hits
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
	case PolicyTTL:
		if !a.ExpiresAt.Equal(b.ExpiresAt) {
			return a.ExpiresAt.Before(b.ExpiresAt)
		}
	default: // PolicyLRU
		return a.access < b.access
	}
	return a.seq < b.seq
}
