package cache

// Stats holds the counters of one strategy. Counters are monotonic for the
// process lifetime; CurrentSize, MaxEntries and HitRate are filled in when
// a snapshot is taken.
type Stats struct {
	StrategyID    string  `json:"strategyId"`
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	Sets          int64   `json:"sets"`
	Deletes       int64   `json:"deletes"`
	Evictions     int64   `json:"evictions"`
	Invalidations int64   `json:"invalidations"`
	Expirations   int64   `json:"expirations"`
	CurrentSize   int     `json:"currentSize"`
	MaxEntries    int     `json:"maxEntries"`
	HitRate       float64 `json:"hitRate"`
}

// Samples is the number of reads observed.
func (s Stats) Samples() int64 {
	return s.Hits + s.Misses
}

// computeHitRate returns hits/(hits+misses), or 0 without reads.
func computeHitRate(hits, misses int64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// snapshot returns the stats with derived fields. Caller holds p.mu.
func (p *partition) snapshot() Stats {
	s := p.stats
	s.CurrentSize = len(p.entries)
	s.MaxEntries = p.strategy.MaxEntries
	s.HitRate = computeHitRate(s.Hits, s.Misses)
	return s
}

// GetStats returns the stats of one strategy.
func (m *Manager) GetStats(strategyID string) (Stats, bool) {
	p := m.partition(strategyID)
	if p == nil {
		return Stats{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot(), true
}

// AllStats returns the stats of every strategy keyed by strategy id.
func (m *Manager) AllStats() map[string]Stats {
	parts := m.snapshotPartitions()
	out := make(map[string]Stats, len(parts))
	for _, p := range parts {
		p.mu.Lock()
		out[p.strategy.ID] = p.snapshot()
		p.mu.Unlock()
	}
	return out
}
