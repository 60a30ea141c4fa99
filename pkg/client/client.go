// Package client provides a typed Go client for the cache API with retries
// and bulk writes.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/strategy-cache/pkg/cache"
)

// Prometheus metrics for client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_client_requests_total",
		Help: "Total cache API requests by action and status",
	}, []string{"action", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cache_client_request_duration_seconds",
		Help:    "Cache API request duration in seconds by action, retries included",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"action"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_client_errors_total",
		Help: "Total cache API errors by class",
	}, []string{"class"})
)

// Client talks to a cache server.
type Client struct {
	httpClient *http.Client
	baseURL    string
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the resource URL, e.g. "http://localhost:8080/api/caching".
	BaseURL string

	// Token is sent as the bearer token.
	Token string

	// UserAgent header. Optional.
	UserAgent string

	// Timeout bounds a single attempt.
	Timeout time.Duration

	// Retry controls backoff on server and network errors.
	Retry RetryConfig

	// MaxConcurrency bounds parallel requests in SetMany.
	MaxConcurrency int
}

// DefaultConfig returns a default configuration.
func DefaultConfig(baseURL, token string) Config {
	return Config{
		BaseURL:        baseURL,
		Token:          token,
		UserAgent:      "strategy-cache-client/1.0",
		Timeout:        10 * time.Second,
		Retry:          DefaultRetryConfig(),
		MaxConcurrency: 8,
	}
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("base url: %w", err)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("token is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 8
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		config:     cfg,
		logger:     log.With().Str("component", "cache-client").Logger(),
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// envelope is the part of every response the client inspects first.
type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Details string `json:"details"`
}

// call performs one action with retries and decodes the success body into
// out when non-nil. GET and DELETE send args as query parameters, other
// methods as a JSON body.
func (c *Client) call(ctx context.Context, method, action string, args any, out any) error {
	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(action).Observe(time.Since(start).Seconds())
	}()

	var query url.Values
	var body []byte
	switch method {
	case http.MethodGet, http.MethodDelete:
		query, _ = args.(url.Values)
	default:
		var err error
		if body, err = json.Marshal(args); err != nil {
			return fmt.Errorf("encode %s: %w", action, err)
		}
	}
	if query == nil {
		query = url.Values{}
	}
	query.Set("action", action)
	target := c.baseURL + "?" + query.Encode()

	var raw []byte
	err := retryWithBackoff(ctx, c.config.Retry, c.logger, func() error {
		var attemptErr error
		raw, attemptErr = c.attempt(ctx, method, action, target, body)
		return attemptErr
	})
	if err != nil {
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", action, err)
	}
	return nil
}

// attempt sends a single request and returns the body of a successful
// response.
func (c *Client) attempt(ctx context.Context, method, action, target string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.Token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("action", action).Msg("HTTP request failed")
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(action, "network_error").Inc()
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(action, "network_error").Inc()
		return nil, fmt.Errorf("read response: %w", err)
	}
	requestsTotal.WithLabelValues(action, strconv.Itoa(resp.StatusCode)).Inc()

	var env envelope
	if jsonErr := json.Unmarshal(raw, &env); jsonErr != nil && resp.StatusCode < http.StatusBadRequest {
		return nil, fmt.Errorf("decode %s response: %w", action, jsonErr)
	}

	class := classifyStatus(resp.StatusCode, env.Success)
	if class == "" {
		return raw, nil
	}

	errorsTotal.WithLabelValues(string(class)).Inc()
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		ErrorClass: class,
		Action:     action,
		Label:      env.Error,
		Details:    env.Details,
	}
	if apiErr.Label == "" {
		apiErr.Label = http.StatusText(resp.StatusCode)
	}

	event := c.logger.Debug()
	if class == ErrorClassServer {
		event = c.logger.Warn()
	}
	event.Str("action", action).
		Int("status", resp.StatusCode).
		Str("error_class", string(class)).
		Str("error", apiErr.Label).
		Msg("Cache API request error")

	return nil, apiErr
}

// Strategy is a strategy as returned by the server.
type Strategy struct {
	ID             string    `json:"id"`
	MaxEntries     int       `json:"maxEntries"`
	DefaultTTLMs   int64     `json:"defaultTtlMs"`
	EvictionPolicy string    `json:"evictionPolicy"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// DefaultTTL returns the default TTL as a duration.
func (s Strategy) DefaultTTL() time.Duration {
	return time.Duration(s.DefaultTTLMs) * time.Millisecond
}

// Change is the strategy update a suggestion proposes.
type Change struct {
	MaxEntries     *int    `json:"maxEntries,omitempty"`
	DefaultTTLMs   *int64  `json:"defaultTtlMs,omitempty"`
	EvictionPolicy *string `json:"evictionPolicy,omitempty"`
}

// Suggestion is an optimization suggestion as returned by the server.
type Suggestion struct {
	ID              string    `json:"id"`
	StrategyID      string    `json:"strategyId"`
	Kind            string    `json:"kind"`
	Rationale       string    `json:"rationale"`
	EstimatedImpact string    `json:"estimatedImpact"`
	Change          Change    `json:"change"`
	CreatedAt       time.Time `json:"createdAt"`
}

func keyArgs(strategyID, key string) url.Values {
	return url.Values{"strategyId": {strategyID}, "key": {key}}
}

func ttlMillis(d *time.Duration) *int64 {
	if d == nil {
		return nil
	}
	ms := d.Milliseconds()
	return &ms
}

// Get reads key from a strategy and decodes the value into dst. It reports
// false when the key is absent or expired.
func (c *Client) Get(ctx context.Context, strategyID, key string, dst any) (bool, error) {
	var out struct {
		Found bool            `json:"found"`
		Value json.RawMessage `json:"value"`
	}
	if err := c.call(ctx, http.MethodGet, "get", keyArgs(strategyID, key), &out); err != nil {
		return false, err
	}
	if !out.Found {
		return false, nil
	}
	if dst != nil {
		if err := json.Unmarshal(out.Value, dst); err != nil {
			return true, fmt.Errorf("decode value: %w", err)
		}
	}
	return true, nil
}

// Set stores value under key.
func (c *Client) Set(ctx context.Context, strategyID, key string, value any, opts cache.SetOptions) error {
	return c.call(ctx, http.MethodPost, "set", map[string]any{
		"strategyId": strategyID,
		"key":        key,
		"value":      value,
		"ttlMs":      ttlMillis(opts.TTL),
		"tags":       opts.Tags,
	}, nil)
}

// Delete removes key. It reports false when there was no live entry.
func (c *Client) Delete(ctx context.Context, strategyID, key string) (bool, error) {
	err := c.call(ctx, http.MethodDelete, "delete", keyArgs(strategyID, key), nil)
	if errors.Is(err, cache.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

type removed struct {
	Removed int `json:"removed"`
}

// Invalidate removes every entry whose key matches the glob pattern.
func (c *Client) Invalidate(ctx context.Context, strategyID, pattern string) (int, error) {
	var out removed
	err := c.call(ctx, http.MethodPost, "invalidate", map[string]any{
		"strategyId": strategyID,
		"pattern":    pattern,
	}, &out)
	return out.Removed, err
}

// InvalidateByTags removes every entry carrying at least one of tags.
func (c *Client) InvalidateByTags(ctx context.Context, strategyID string, tags []string) (int, error) {
	var out removed
	err := c.call(ctx, http.MethodPost, "invalidateByTags", map[string]any{
		"strategyId": strategyID,
		"tags":       tags,
	}, &out)
	return out.Removed, err
}

// TriggerInvalidation fires the invalidation rules matching event.
func (c *Client) TriggerInvalidation(ctx context.Context, event string) (int, error) {
	var out removed
	err := c.call(ctx, http.MethodPost, "triggerInvalidation", map[string]any{"event": event}, &out)
	return out.Removed, err
}

// CreateStrategy registers a strategy. Requires an operator token.
func (c *Client) CreateStrategy(ctx context.Context, cfg cache.StrategyConfig) (Strategy, error) {
	var out struct {
		Strategy Strategy `json:"strategy"`
	}
	err := c.call(ctx, http.MethodPost, "createStrategy", map[string]any{
		"id":             cfg.ID,
		"maxEntries":     cfg.MaxEntries,
		"defaultTtlMs":   cfg.DefaultTTL.Milliseconds(),
		"evictionPolicy": string(cfg.EvictionPolicy),
	}, &out)
	return out.Strategy, err
}

// UpdateStrategy changes the non-nil fields of upd. Requires an operator
// token.
func (c *Client) UpdateStrategy(ctx context.Context, id string, upd cache.StrategyUpdate) (Strategy, error) {
	args := map[string]any{"id": id}
	if upd.MaxEntries != nil {
		args["maxEntries"] = *upd.MaxEntries
	}
	if upd.DefaultTTL != nil {
		args["defaultTtlMs"] = upd.DefaultTTL.Milliseconds()
	}
	if upd.EvictionPolicy != nil {
		args["evictionPolicy"] = string(*upd.EvictionPolicy)
	}

	var out struct {
		Strategy Strategy `json:"strategy"`
	}
	err := c.call(ctx, http.MethodPut, "updateStrategy", args, &out)
	return out.Strategy, err
}

// GetStrategy returns a strategy. A missing strategy yields an error
// matching cache.ErrNotFound.
func (c *Client) GetStrategy(ctx context.Context, id string) (Strategy, error) {
	var out struct {
		Strategy Strategy `json:"strategy"`
	}
	err := c.call(ctx, http.MethodGet, "getStrategy", url.Values{"id": {id}}, &out)
	return out.Strategy, err
}

// ListStrategies returns every strategy in creation order.
func (c *Client) ListStrategies(ctx context.Context) ([]Strategy, error) {
	var out struct {
		Strategies []Strategy `json:"strategies"`
	}
	err := c.call(ctx, http.MethodGet, "getStrategies", nil, &out)
	return out.Strategies, err
}

// GetStats returns the counters of one strategy.
func (c *Client) GetStats(ctx context.Context, strategyID string) (cache.Stats, error) {
	var out struct {
		Stats cache.Stats `json:"stats"`
	}
	err := c.call(ctx, http.MethodGet, "getStats", url.Values{"strategyId": {strategyID}}, &out)
	return out.Stats, err
}

// AllStats returns the counters of every strategy keyed by strategy ID.
func (c *Client) AllStats(ctx context.Context) (map[string]cache.Stats, error) {
	var out struct {
		Stats map[string]cache.Stats `json:"stats"`
	}
	err := c.call(ctx, http.MethodGet, "getAllStats", nil, &out)
	return out.Stats, err
}

// GenerateOptimizations runs the advisor. Requires an operator token.
func (c *Client) GenerateOptimizations(ctx context.Context) ([]Suggestion, error) {
	var out struct {
		Optimizations []Suggestion `json:"optimizations"`
	}
	err := c.call(ctx, http.MethodPost, "generateOptimizations", struct{}{}, &out)
	return out.Optimizations, err
}

// Optimizations returns the pending suggestions. Requires an operator token.
func (c *Client) Optimizations(ctx context.Context) ([]Suggestion, error) {
	var out struct {
		Optimizations []Suggestion `json:"optimizations"`
	}
	err := c.call(ctx, http.MethodGet, "getOptimizations", nil, &out)
	return out.Optimizations, err
}

// ApplyOptimization applies a pending suggestion. It reports false when the
// suggestion does not exist. Requires an operator token.
func (c *Client) ApplyOptimization(ctx context.Context, id string) (bool, error) {
	err := c.call(ctx, http.MethodDelete, "applyOptimization", url.Values{"id": {id}}, nil)
	if errors.Is(err, cache.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// AddInvalidationRule registers a rule. Requires an operator token.
func (c *Client) AddInvalidationRule(ctx context.Context, rule cache.InvalidationRule) (cache.InvalidationRule, error) {
	var out struct {
		Rule cache.InvalidationRule `json:"rule"`
	}
	err := c.call(ctx, http.MethodPost, "createInvalidationRule", map[string]any{
		"id":         rule.ID,
		"strategyId": rule.StrategyID,
		"event":      rule.Event,
		"pattern":    rule.Pattern,
		"tags":       rule.Tags,
	}, &out)
	return out.Rule, err
}

// InvalidationRules returns the registered rules. Requires an operator
// token.
func (c *Client) InvalidationRules(ctx context.Context) ([]cache.InvalidationRule, error) {
	var out struct {
		Rules []cache.InvalidationRule `json:"rules"`
	}
	err := c.call(ctx, http.MethodGet, "getInvalidationRules", nil, &out)
	return out.Rules, err
}

// Entries lists live entries without values, of one strategy or all when
// strategyID is empty. Requires an operator token.
func (c *Client) Entries(ctx context.Context, strategyID string) ([]cache.EntryInfo, error) {
	args := url.Values{}
	if strategyID != "" {
		args.Set("strategyId", strategyID)
	}
	var out struct {
		Entries []cache.EntryInfo `json:"entries"`
	}
	err := c.call(ctx, http.MethodGet, "getMemoryCacheEntries", args, &out)
	return out.Entries, err
}
