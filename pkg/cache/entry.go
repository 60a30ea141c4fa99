package cache

import (
	"sort"
	"time"
)

// CacheEntry represents one cached value and its bookkeeping.
type CacheEntry struct {
	// Key is unique within the owning strategy.
	Key string

	// StrategyID is the owning strategy.
	StrategyID string

	// Value is the cached payload. Nil when the value lives in a Backend.
	Value any

	// Tags are used for bulk invalidation.
	Tags map[string]struct{}

	// CreatedAt is when the entry was stored.
	CreatedAt time.Time

	// ExpiresAt is when the entry stops being served. Zero means no TTL.
	ExpiresAt time.Time

	// LastAccessedAt is the last successful read (CreatedAt until then).
	LastAccessedAt time.Time

	// Hits counts successful reads of this entry.
	Hits int64

	// seq orders entries by insertion, access by touch. Wall clock
	// resolution is too coarse to break ties between back-to-back calls.
	seq    uint64
	access uint64
}

// HasTTL reports whether the entry expires.
func (e *CacheEntry) HasTTL() bool {
	return !e.ExpiresAt.IsZero()
}

// IsExpired returns true if the entry carries a TTL that has passed at now.
func (e *CacheEntry) IsExpired(now time.Time) bool {
	return e.HasTTL() && !now.Before(e.ExpiresAt)
}

// TTL returns the time until expiration at now.
// Returns 0 if already expired or if the entry has no TTL.
func (e *CacheEntry) TTL(now time.Time) time.Duration {
	if !e.HasTTL() {
		return 0
	}
	ttl := e.ExpiresAt.Sub(now)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// HasAnyTag reports whether the entry carries at least one of tags.
func (e *CacheEntry) HasAnyTag(tags []string) bool {
	for _, t := range tags {
		if _, ok := e.Tags[t]; ok {
			return true
		}
	}
	return false
}

// TagList returns the tags sorted.
func (e *CacheEntry) TagList() []string {
	out := make([]string, 0, len(e.Tags))
	for t := range e.Tags {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// EntryInfo is a read-only snapshot of an entry without its value.
type EntryInfo struct {
	Key            string     `json:"key"`
	StrategyID     string     `json:"strategyId"`
	Tags           []string   `json:"tags"`
	CreatedAt      time.Time  `json:"createdAt"`
	ExpiresAt      *time.Time `json:"expiresAt"`
	LastAccessedAt time.Time  `json:"lastAccessedAt"`
	Hits           int64      `json:"hits"`
}

func (e *CacheEntry) info() EntryInfo {
	info := EntryInfo{
		Key:            e.Key,
		StrategyID:     e.StrategyID,
		Tags:           e.TagList(),
		CreatedAt:      e.CreatedAt,
		LastAccessedAt: e.LastAccessedAt,
		Hits:           e.Hits,
	}
	if e.HasTTL() {
		exp := e.ExpiresAt
		info.ExpiresAt = &exp
	}
	return info
}

func sortBySeq(entries []*CacheEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].seq < entries[j].seq
	})
}

func tagSet(tags []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		if t == "" {
			continue
		}
		set[t] = struct{}{}
	}
	return set
}
