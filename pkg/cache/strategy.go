package cache

import (
	"fmt"
	"strings"
	"time"
)

// EvictionPolicy selects which entry is removed when a strategy is full.
type EvictionPolicy string

const (
	// PolicyLRU evicts the entry that was read least recently.
	PolicyLRU EvictionPolicy = "LRU"

	// PolicyLFU evicts the entry with the fewest hits, oldest first on ties.
	PolicyLFU EvictionPolicy = "LFU"

	// PolicyTTL evicts the entry closest to expiry. Entries without a TTL
	// are never chosen.
	PolicyTTL EvictionPolicy = "TTL-only"
)

// Valid reports whether p is a known policy.
func (p EvictionPolicy) Valid() bool {
	switch p {
	case PolicyLRU, PolicyLFU, PolicyTTL:
		return true
	default:
		return false
	}
}

// Strategy is a named configuration entries are stored under.
type Strategy struct {
	// ID identifies the strategy. Immutable.
	ID string `json:"id"`

	// MaxEntries bounds the number of live entries.
	MaxEntries int `json:"maxEntries"`

	// DefaultTTL applies when Set carries no TTL. Zero means no expiry.
	DefaultTTL time.Duration `json:"-"`

	// EvictionPolicy decides the victim when the strategy is full.
	EvictionPolicy EvictionPolicy `json:"evictionPolicy"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// StrategyConfig is the input of CreateStrategy.
type StrategyConfig struct {
	// ID is optional; a UUID is generated when empty.
	ID             string
	MaxEntries     int
	DefaultTTL     time.Duration
	EvictionPolicy EvictionPolicy
}

// StrategyUpdate holds the mutable strategy fields. Nil fields are left
// unchanged.
type StrategyUpdate struct {
	MaxEntries     *int            `json:"maxEntries,omitempty"`
	DefaultTTL     *time.Duration  `json:"-"`
	EvictionPolicy *EvictionPolicy `json:"evictionPolicy,omitempty"`
}

// IsEmpty reports whether the update changes nothing.
func (u StrategyUpdate) IsEmpty() bool {
	return u.MaxEntries == nil && u.DefaultTTL == nil && u.EvictionPolicy == nil
}

func (c *StrategyConfig) normalize() error {
	c.ID = strings.TrimSpace(c.ID)
	if c.EvictionPolicy == "" {
		c.EvictionPolicy = PolicyLRU
	}
	return validateFields(c.MaxEntries, c.DefaultTTL, c.EvictionPolicy)
}

func (u StrategyUpdate) validate() error {
	if u.MaxEntries != nil && *u.MaxEntries <= 0 {
		return fmt.Errorf("%w: maxEntries must be positive (got %d)", ErrValidation, *u.MaxEntries)
	}
	if u.DefaultTTL != nil && *u.DefaultTTL < 0 {
		return fmt.Errorf("%w: defaultTtl cannot be negative (got %s)", ErrValidation, *u.DefaultTTL)
	}
	if u.EvictionPolicy != nil && !u.EvictionPolicy.Valid() {
		return fmt.Errorf("%w: unknown eviction policy %q", ErrValidation, *u.EvictionPolicy)
	}
	return nil
}

func (u StrategyUpdate) applyTo(s *Strategy) {
	if u.MaxEntries != nil {
		s.MaxEntries = *u.MaxEntries
	}
	if u.DefaultTTL != nil {
		s.DefaultTTL = *u.DefaultTTL
	}
	if u.EvictionPolicy != nil {
		s.EvictionPolicy = *u.EvictionPolicy
	}
}

func validateFields(maxEntries int, ttl time.Duration, policy EvictionPolicy) error {
	if maxEntries <= 0 {
		return fmt.Errorf("%w: maxEntries must be positive (got %d)", ErrValidation, maxEntries)
	}
	if ttl < 0 {
		return fmt.Errorf("%w: defaultTtl cannot be negative (got %s)", ErrValidation, ttl)
	}
	if !policy.Valid() {
		return fmt.Errorf("%w: unknown eviction policy %q", ErrValidation, policy)
	}
	return nil
}
