package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Backend stores entry values outside the process so several instances can
// share them. The Manager keeps entry metadata (tags, expiry, access order)
// in memory and delegates only the payload.
type Backend interface {
	// Load returns the value for key, or ErrBackendMiss if none is stored.
	Load(ctx context.Context, key CacheKey) (any, error)

	// Store writes value under key. A zero ttl means no expiry.
	Store(ctx context.Context, key CacheKey, value any, ttl time.Duration) error

	// Remove deletes the given keys. Missing keys are not an error.
	Remove(ctx context.Context, keys ...CacheKey) error
}

// Option configures a Manager.
type Option func(*Manager)

// WithBackend stores values in b instead of process memory.
func WithBackend(b Backend) Option {
	return func(m *Manager) {
		m.backend = b
	}
}

// WithClock replaces time.Now (for testing).
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithAdvisorConfig sets the optimization advisor thresholds.
func WithAdvisorConfig(cfg AdvisorConfig) Option {
	return func(m *Manager) {
		m.advisor = cfg
	}
}

// WithKeyPrefix sets the backend key prefix.
func WithKeyPrefix(prefix string) Option {
	return func(m *Manager) {
		m.keyPrefix = prefix
	}
}

// WithIDGenerator replaces the UUID generator (for testing).
func WithIDGenerator(newID func() string) Option {
	return func(m *Manager) {
		if newID != nil {
			m.newID = newID
		}
	}
}

// Manager is the cache service: strategy registry, entry store, eviction,
// invalidation, stats and the optimization advisor.
//
// Operations on one strategy are serialized by that strategy's lock;
// different strategies proceed independently.
type Manager struct {
	mu         sync.RWMutex
	order      []string
	partitions map[string]*partition

	rulesMu sync.RWMutex
	rules   []InvalidationRule

	suggestionsMu sync.Mutex
	suggestions   []OptimizationSuggestion

	backend   Backend
	keyPrefix string
	advisor   AdvisorConfig
	now       func() time.Time
	newID     func() string
	logger    zerolog.Logger
}

// partition holds one strategy and the entries stored under it.
type partition struct {
	mu       sync.Mutex
	strategy Strategy
	entries  map[string]*CacheEntry
	stats    Stats
	seq      uint64
}

// NewManager creates a new cache manager. Values are kept in memory unless
// WithBackend is given.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		partitions: make(map[string]*partition),
		keyPrefix:  DefaultKeyPrefix,
		advisor:    DefaultAdvisorConfig(),
		now:        time.Now,
		newID:      uuid.NewString,
		logger:     log.With().Str("component", "cache").Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// HasBackend reports whether values are stored in an external backend.
func (m *Manager) HasBackend() bool {
	return m.backend != nil
}

func (m *Manager) partition(strategyID string) *partition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.partitions[strategyID]
}

// snapshotPartitions returns partitions in strategy creation order.
func (m *Manager) snapshotPartitions() []*partition {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*partition, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.partitions[id])
	}
	return out
}

func (m *Manager) backendKey(strategyID, key string) CacheKey {
	return CacheKey{Prefix: m.keyPrefix, StrategyID: strategyID, Key: key}
}

// removeFromBackend drops values of removed entries. Failures are logged and
// counted; the metadata is already gone, so a stale value is never served.
func (m *Manager) removeFromBackend(ctx context.Context, strategyID string, removed []*CacheEntry) {
	if m.backend == nil || len(removed) == 0 {
		return
	}
	keys := make([]CacheKey, 0, len(removed))
	for _, e := range removed {
		keys = append(keys, m.backendKey(strategyID, e.Key))
	}
	if err := m.backend.Remove(ctx, keys...); err != nil {
		BackendErrors.WithLabelValues("remove").Inc()
		m.logger.Warn().
			Err(err).
			Str("strategy", strategyID).
			Int("keys", len(keys)).
			Msg("Backend remove failed")
	}
}

// drop removes an entry from the partition. Caller holds p.mu.
func (p *partition) drop(e *CacheEntry) {
	delete(p.entries, e.Key)
	CacheEntries.WithLabelValues(p.strategy.ID).Set(float64(len(p.entries)))
}

// expire removes an expired entry. Caller holds p.mu.
func (p *partition) expire(e *CacheEntry) {
	p.drop(e)
	p.stats.Expirations++
	CacheExpirations.WithLabelValues(p.strategy.ID).Inc()
}

// purgeExpired removes every expired entry. Caller holds p.mu.
func (p *partition) purgeExpired(now time.Time) []*CacheEntry {
	var removed []*CacheEntry
	for _, e := range p.entries {
		if e.IsExpired(now) {
			removed = append(removed, e)
		}
	}
	for _, e := range removed {
		p.expire(e)
	}
	return removed
}

func (p *partition) touch() uint64 {
	p.seq++
	return p.seq
}
