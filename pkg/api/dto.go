package api

import (
	"fmt"
	"math"
	"time"

	"github.com/Sternrassler/strategy-cache/pkg/cache"
)

// Durations cross the wire as integer milliseconds.

type strategyDTO struct {
	ID             string    `json:"id"`
	MaxEntries     int       `json:"maxEntries"`
	DefaultTTLMs   int64     `json:"defaultTtlMs"`
	EvictionPolicy string    `json:"evictionPolicy"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func toStrategyDTO(s cache.Strategy) strategyDTO {
	return strategyDTO{
		ID:             s.ID,
		MaxEntries:     s.MaxEntries,
		DefaultTTLMs:   s.DefaultTTL.Milliseconds(),
		EvictionPolicy: string(s.EvictionPolicy),
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}

type changeDTO struct {
	MaxEntries     *int    `json:"maxEntries,omitempty"`
	DefaultTTLMs   *int64  `json:"defaultTtlMs,omitempty"`
	EvictionPolicy *string `json:"evictionPolicy,omitempty"`
}

type suggestionDTO struct {
	ID              string    `json:"id"`
	StrategyID      string    `json:"strategyId"`
	Kind            string    `json:"kind"`
	Rationale       string    `json:"rationale"`
	EstimatedImpact string    `json:"estimatedImpact"`
	Change          changeDTO `json:"change"`
	CreatedAt       time.Time `json:"createdAt"`
}

func toSuggestionDTOs(sgs []cache.OptimizationSuggestion) []suggestionDTO {
	out := make([]suggestionDTO, 0, len(sgs))
	for _, sg := range sgs {
		dto := suggestionDTO{
			ID:              sg.ID,
			StrategyID:      sg.StrategyID,
			Kind:            string(sg.Kind),
			Rationale:       sg.Rationale,
			EstimatedImpact: string(sg.EstimatedImpact),
			CreatedAt:       sg.CreatedAt,
		}
		dto.Change.MaxEntries = sg.Change.MaxEntries
		if sg.Change.DefaultTTL != nil {
			ms := sg.Change.DefaultTTL.Milliseconds()
			dto.Change.DefaultTTLMs = &ms
		}
		if sg.Change.EvictionPolicy != nil {
			p := string(*sg.Change.EvictionPolicy)
			dto.Change.EvictionPolicy = &p
		}
		out = append(out, dto)
	}
	return out
}

// maxMillis is the largest millisecond count a time.Duration can hold.
const maxMillis = math.MaxInt64 / int64(time.Millisecond)

// millis converts a wire duration, rejecting values time.Duration cannot hold.
func millis(ms int64) (time.Duration, error) {
	if ms > maxMillis || ms < -maxMillis {
		return 0, fmt.Errorf("%w: duration of %d ms out of range", cache.ErrValidation, ms)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// Requests. GET and DELETE bind the form tags from the query string, POST
// and PUT bind the json tags from the body.

type keyRequest struct {
	StrategyID string `form:"strategyId" json:"strategyId" binding:"required"`
	Key        string `form:"key" json:"key" binding:"required"`
}

type idRequest struct {
	ID string `form:"id" json:"id" binding:"required"`
}

type strategyIDRequest struct {
	StrategyID string `form:"strategyId" json:"strategyId" binding:"required"`
}

type entriesRequest struct {
	StrategyID string `form:"strategyId" json:"strategyId"`
}

type setRequest struct {
	StrategyID string   `json:"strategyId" binding:"required"`
	Key        string   `json:"key" binding:"required"`
	Value      any      `json:"value"`
	TTLMs      *int64   `json:"ttlMs"`
	Tags       []string `json:"tags"`
}

type invalidateRequest struct {
	StrategyID string `json:"strategyId" binding:"required"`
	Pattern    string `json:"pattern"`
}

type invalidateByTagsRequest struct {
	StrategyID string   `json:"strategyId" binding:"required"`
	Tags       []string `json:"tags"`
}

type triggerRequest struct {
	Event string `json:"event" binding:"required"`
}

type createStrategyRequest struct {
	ID             string `json:"id"`
	MaxEntries     int    `json:"maxEntries"`
	DefaultTTLMs   int64  `json:"defaultTtlMs"`
	EvictionPolicy string `json:"evictionPolicy"`
}

type updateStrategyRequest struct {
	ID             string  `json:"id" binding:"required"`
	MaxEntries     *int    `json:"maxEntries"`
	DefaultTTLMs   *int64  `json:"defaultTtlMs"`
	EvictionPolicy *string `json:"evictionPolicy"`
}

func (r updateStrategyRequest) update() (cache.StrategyUpdate, error) {
	var upd cache.StrategyUpdate
	upd.MaxEntries = r.MaxEntries
	if r.DefaultTTLMs != nil {
		ttl, err := millis(*r.DefaultTTLMs)
		if err != nil {
			return upd, err
		}
		upd.DefaultTTL = &ttl
	}
	if r.EvictionPolicy != nil {
		p := cache.EvictionPolicy(*r.EvictionPolicy)
		upd.EvictionPolicy = &p
	}
	return upd, nil
}

type createRuleRequest struct {
	ID         string   `json:"id"`
	StrategyID string   `json:"strategyId" binding:"required"`
	Event      string   `json:"event" binding:"required"`
	Pattern    string   `json:"pattern"`
	Tags       []string `json:"tags"`
}
