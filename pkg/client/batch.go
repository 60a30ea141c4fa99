package client

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/strategy-cache/pkg/cache"
)

// Item is one write of a SetMany batch.
type Item struct {
	Key   string
	Value any

	// TTL overrides the strategy default when non-nil.
	TTL  *time.Duration
	Tags []string
}

// ItemError is the failure of one batch item.
type ItemError struct {
	// Index is the position of the item in the batch.
	Index int
	Key   string
	Err   error
}

// Error implements the error interface.
func (e ItemError) Error() string {
	return fmt.Sprintf("item %d (%s): %v", e.Index, e.Key, e.Err)
}

// Unwrap returns the underlying error.
func (e ItemError) Unwrap() error {
	return e.Err
}

// BatchError reports the items of a batch that failed, ordered by index.
// Items not listed were stored. A key written more than once in a batch
// appears once per failed write.
type BatchError struct {
	Failed []ItemError
}

// Error implements the error interface.
func (e *BatchError) Error() string {
	keys := make([]string, 0, min(len(e.Failed), 4))
	for i, f := range e.Failed {
		if i == 3 {
			keys = append(keys, "...")
			break
		}
		keys = append(keys, f.Key)
	}
	return fmt.Sprintf("%d of batch failed: %s", len(e.Failed), strings.Join(keys, ", "))
}

// Unwrap exposes the individual failures to errors.Is/As.
func (e *BatchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, f := range e.Failed {
		errs = append(errs, f)
	}
	return errs
}

// SetMany writes items in parallel with at most Config.MaxConcurrency
// requests in flight. A failed item does not stop the others; failures are
// returned as a *BatchError. Cancelling ctx stops scheduling new writes.
func (c *Client) SetMany(ctx context.Context, strategyID string, items []Item) error {
	start := time.Now()

	var mu sync.Mutex
	var failed []ItemError
	stored := 0

	g := new(errgroup.Group)
	g.SetLimit(c.config.MaxConcurrency)

	for i, item := range items {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			err := c.Set(ctx, strategyID, item.Key, item.Value, cache.SetOptions{TTL: item.TTL, Tags: item.Tags})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed = append(failed, ItemError{Index: i, Key: item.Key, Err: err})
				c.logger.Warn().Err(err).Str("strategy", strategyID).Str("key", item.Key).Msg("Batch write failed")
				return nil
			}
			stored++
			return nil
		})
	}
	_ = g.Wait()

	c.logger.Info().
		Str("strategy", strategyID).
		Int("stored", stored).
		Int("failed", len(failed)).
		Int("total", len(items)).
		Dur("duration", time.Since(start)).
		Msg("Batch write complete")

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("batch interrupted (%d/%d stored): %w", stored, len(items), err)
	}
	if len(failed) > 0 {
		sort.Slice(failed, func(a, b int) bool { return failed[a].Index < failed[b].Index })
		return &BatchError{Failed: failed}
	}
	return nil
}
