package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/strategy-cache/pkg/auth"
	"github.com/Sternrassler/strategy-cache/pkg/cache"
)

const (
	adminToken  = "admin-token"
	devopsToken = "devops-token"
	userToken   = "user-token"
)

type testServer struct {
	t       *testing.T
	router  *gin.Engine
	manager *cache.Manager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tokens, err := auth.NewStaticTokens([]auth.Token{
		{Token: adminToken, Subject: "alice", Roles: []string{"admin"}},
		{Token: devopsToken, Subject: "dave", Roles: []string{"devops"}},
		{Token: userToken, Subject: "bob", Roles: []string{"user"}},
	})
	require.NoError(t, err)

	manager := cache.NewManager(cache.WithLogger(zerolog.Nop()))
	router := gin.New()
	NewHandler(manager, tokens).WithLogger(zerolog.Nop()).Register(router, DefaultPath)

	return &testServer{t: t, router: router, manager: manager}
}

// do sends a request and decodes the JSON response.
func (s *testServer) do(method, token, action string, query url.Values, body any) (int, map[string]any) {
	s.t.Helper()

	if query == nil {
		query = url.Values{}
	}
	query.Set("action", action)

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, DefaultPath+"?"+query.Encode(), reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var out map[string]any
	require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec.Code, out
}

func (s *testServer) createStrategy(body map[string]any) {
	s.t.Helper()
	code, out := s.do(http.MethodPost, adminToken, "createStrategy", nil, body)
	require.Equal(s.t, http.StatusOK, code, out)
}

func TestHandler_Authentication(t *testing.T) {
	s := newTestServer(t)

	code, out := s.do(http.MethodGet, "", "getStrategies", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "unauthorized", out["error"])

	code, _ = s.do(http.MethodGet, "wrong", "getStrategies", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, out = s.do(http.MethodGet, userToken, "getStrategies", nil, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, out["success"])
}

func TestHandler_RoleGates(t *testing.T) {
	s := newTestServer(t)

	gated := []struct {
		method string
		action string
	}{
		{http.MethodGet, "getInvalidationRules"},
		{http.MethodGet, "getOptimizations"},
		{http.MethodGet, "getMemoryCacheEntries"},
		{http.MethodPost, "createStrategy"},
		{http.MethodPost, "generateOptimizations"},
		{http.MethodPost, "createInvalidationRule"},
		{http.MethodPut, "updateStrategy"},
		{http.MethodDelete, "applyOptimization"},
	}

	for _, g := range gated {
		t.Run(g.action, func(t *testing.T) {
			code, out := s.do(g.method, userToken, g.action, nil, map[string]any{})
			assert.Equal(t, http.StatusForbidden, code)
			assert.Equal(t, "forbidden", out["error"])
		})
	}

	code, _ := s.do(http.MethodGet, devopsToken, "getOptimizations", nil, nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = s.do(http.MethodGet, adminToken, "getInvalidationRules", nil, nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestHandler_UnknownAction(t *testing.T) {
	s := newTestServer(t)

	code, out := s.do(http.MethodGet, userToken, "set", nil, nil)
	assert.Equal(t, http.StatusBadRequest, code, "set is POST only")
	assert.Equal(t, "bad_request", out["error"])

	code, _ = s.do(http.MethodPost, userToken, "", nil, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHandler_StrategyLifecycle(t *testing.T) {
	s := newTestServer(t)

	s.createStrategy(map[string]any{"id": "s1", "maxEntries": 5, "defaultTtlMs": 60000, "evictionPolicy": "LFU"})

	code, out := s.do(http.MethodPost, adminToken, "createStrategy", nil, map[string]any{"id": "s1", "maxEntries": 5})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "conflict", out["error"])

	code, out = s.do(http.MethodPost, adminToken, "createStrategy", nil, map[string]any{"id": "bad", "maxEntries": 0})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "validation_error", out["error"])

	code, out = s.do(http.MethodGet, userToken, "getStrategy", url.Values{"id": {"s1"}}, nil)
	require.Equal(t, http.StatusOK, code)
	strategy := out["strategy"].(map[string]any)
	assert.Equal(t, "s1", strategy["id"])
	assert.Equal(t, float64(60000), strategy["defaultTtlMs"])
	assert.Equal(t, "LFU", strategy["evictionPolicy"])

	code, out = s.do(http.MethodGet, userToken, "getStrategy", url.Values{"id": {"nope"}}, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, out["success"])

	code, out = s.do(http.MethodPut, devopsToken, "updateStrategy", nil, map[string]any{"id": "s1", "maxEntries": 10})
	require.Equal(t, http.StatusOK, code, out)
	assert.Equal(t, float64(10), out["strategy"].(map[string]any)["maxEntries"])

	code, out = s.do(http.MethodPut, devopsToken, "updateStrategy", nil, map[string]any{"id": "nope", "maxEntries": 10})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, out["success"])

	code, _ = s.do(http.MethodPut, devopsToken, "updateStrategy", nil, map[string]any{"id": "s1"})
	assert.Equal(t, http.StatusBadRequest, code, "empty update")

	code, out = s.do(http.MethodGet, userToken, "getStrategies", nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, out["strategies"], 1)
}

func TestHandler_EntryOperations(t *testing.T) {
	s := newTestServer(t)
	s.createStrategy(map[string]any{"id": "s1", "maxEntries": 2})

	code, out := s.do(http.MethodPost, userToken, "set", nil, map[string]any{
		"strategyId": "s1", "key": "a", "value": map[string]any{"n": 1}, "tags": []string{"t1"},
	})
	require.Equal(t, http.StatusOK, code, out)
	assert.Equal(t, true, out["success"])

	code, out = s.do(http.MethodGet, userToken, "get", url.Values{"strategyId": {"s1"}, "key": {"a"}}, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, out["found"])
	assert.Equal(t, map[string]any{"n": float64(1)}, out["value"])

	code, out = s.do(http.MethodGet, userToken, "get", url.Values{"strategyId": {"s1"}, "key": {"zz"}}, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, out["found"])
	assert.Nil(t, out["value"])

	code, _ = s.do(http.MethodGet, userToken, "get", url.Values{"strategyId": {"s1"}}, nil)
	assert.Equal(t, http.StatusBadRequest, code, "missing key")

	code, out = s.do(http.MethodPost, userToken, "set", nil, map[string]any{"strategyId": "nope", "key": "a", "value": 1})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, out["success"])

	code, out = s.do(http.MethodPost, userToken, "set", nil, map[string]any{"strategyId": "s1", "key": "a", "value": 1, "ttlMs": -5})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "validation_error", out["error"])

	code, out = s.do(http.MethodDelete, userToken, "delete", url.Values{"strategyId": {"s1"}, "key": {"a"}}, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, out["success"])

	code, out = s.do(http.MethodDelete, userToken, "delete", url.Values{"strategyId": {"s1"}, "key": {"a"}}, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, out["success"])

	code, out = s.do(http.MethodGet, userToken, "getStats", url.Values{"strategyId": {"s1"}}, nil)
	require.Equal(t, http.StatusOK, code)
	stats := out["stats"].(map[string]any)
	assert.Equal(t, float64(1), stats["hits"])
	assert.Equal(t, float64(1), stats["misses"])
	assert.Equal(t, float64(1), stats["deletes"])

	code, out = s.do(http.MethodGet, userToken, "getAllStats", nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, out["stats"], "s1")
}

func TestHandler_CapacityIsNotAnError(t *testing.T) {
	s := newTestServer(t)
	s.createStrategy(map[string]any{"id": "t", "maxEntries": 1, "evictionPolicy": "TTL-only"})

	code, _ := s.do(http.MethodPost, userToken, "set", nil, map[string]any{"strategyId": "t", "key": "a", "value": 1})
	require.Equal(t, http.StatusOK, code)

	code, out := s.do(http.MethodPost, userToken, "set", nil, map[string]any{"strategyId": "t", "key": "b", "value": 2})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, out["success"])
	assert.Equal(t, "capacity_exhausted", out["error"])
}

func TestHandler_Invalidation(t *testing.T) {
	s := newTestServer(t)
	s.createStrategy(map[string]any{"id": "s1", "maxEntries": 10})

	for _, k := range []string{"user:1", "user:2", "order:1"} {
		code, _ := s.do(http.MethodPost, userToken, "set", nil, map[string]any{
			"strategyId": "s1", "key": k, "value": k, "tags": []string{k[:4]},
		})
		require.Equal(t, http.StatusOK, code)
	}

	code, out := s.do(http.MethodPost, userToken, "invalidate", nil, map[string]any{"strategyId": "s1", "pattern": ""})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(0), out["removed"])

	code, out = s.do(http.MethodPost, userToken, "invalidate", nil, map[string]any{"strategyId": "s1", "pattern": "user:*"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(2), out["removed"])

	code, out = s.do(http.MethodPost, userToken, "invalidateByTags", nil, map[string]any{"strategyId": "s1", "tags": []string{"orde"}})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), out["removed"])

	code, out = s.do(http.MethodGet, adminToken, "getMemoryCacheEntries", nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(0), out["count"])
}

func TestHandler_InvalidationRules(t *testing.T) {
	s := newTestServer(t)
	s.createStrategy(map[string]any{"id": "s1", "maxEntries": 10})

	code, out := s.do(http.MethodPost, adminToken, "createInvalidationRule", nil, map[string]any{
		"strategyId": "s1", "event": "user.*", "pattern": "user:*",
	})
	require.Equal(t, http.StatusOK, code, out)

	code, out = s.do(http.MethodPost, adminToken, "createInvalidationRule", nil, map[string]any{
		"strategyId": "s1", "event": "user.*",
	})
	assert.Equal(t, http.StatusBadRequest, code, "rule needs a selector")

	code, out = s.do(http.MethodGet, devopsToken, "getInvalidationRules", nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, out["rules"], 1)

	code, _ = s.do(http.MethodPost, userToken, "set", nil, map[string]any{"strategyId": "s1", "key": "user:7", "value": 1})
	require.Equal(t, http.StatusOK, code)

	code, out = s.do(http.MethodPost, userToken, "triggerInvalidation", nil, map[string]any{"event": "user.updated"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), out["removed"])
}

func TestHandler_Optimizations(t *testing.T) {
	s := newTestServer(t)
	s.createStrategy(map[string]any{"id": "s1", "maxEntries": 100})

	for i := 0; i < 100; i++ {
		s.manager.Get(t.Context(), "s1", "missing")
	}

	code, out := s.do(http.MethodPost, adminToken, "generateOptimizations", nil, nil)
	require.Equal(t, http.StatusOK, code, out)
	sgs := out["optimizations"].([]any)
	require.Len(t, sgs, 1)
	sg := sgs[0].(map[string]any)
	assert.Equal(t, "decrease_capacity", sg["kind"])
	assert.Equal(t, map[string]any{"maxEntries": float64(1)}, sg["change"])

	code, out = s.do(http.MethodGet, adminToken, "getOptimizations", nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, out["optimizations"], 1)

	id := sg["id"].(string)
	code, out = s.do(http.MethodDelete, adminToken, "applyOptimization", url.Values{"id": {id}}, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, out["success"])

	code, out = s.do(http.MethodDelete, adminToken, "applyOptimization", url.Values{"id": {id}}, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, out["success"])

	st, _ := s.manager.GetStrategy("s1")
	assert.Equal(t, 1, st.MaxEntries)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{auth.ErrUnauthorized, http.StatusUnauthorized},
		{auth.ErrForbidden, http.StatusForbidden},
		{errBadRequest, http.StatusBadRequest},
		{cache.ErrValidation, http.StatusBadRequest},
		{cache.ErrConflict, http.StatusConflict},
		{cache.ErrCapacity, http.StatusOK},
		{cache.ErrNotFound, http.StatusOK},
		{cache.ErrBackendTimeout, http.StatusOK},
		{assert.AnError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			got, _ := statusFor(tt.err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHandler_DurationRange(t *testing.T) {
	s := newTestServer(t)
	s.createStrategy(map[string]any{"id": "s1", "maxEntries": 5})

	code, out := s.do(http.MethodPost, userToken, "set", nil, map[string]any{
		"strategyId": "s1", "key": "long", "value": 1, "ttlMs": maxMillis,
	})
	require.Equal(t, http.StatusOK, code, out)
	entries := s.manager.Entries("s1")
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].ExpiresAt)
	assert.True(t, entries[0].ExpiresAt.After(entries[0].CreatedAt.Add(100*365*24*time.Hour)))

	tooLong := maxMillis + 1
	tests := []struct {
		name   string
		method string
		action string
		body   map[string]any
	}{
		{"set", http.MethodPost, "set", map[string]any{"strategyId": "s1", "key": "a", "value": 1, "ttlMs": tooLong}},
		{"createStrategy", http.MethodPost, "createStrategy", map[string]any{"id": "s2", "maxEntries": 1, "defaultTtlMs": tooLong}},
		{"updateStrategy", http.MethodPut, "updateStrategy", map[string]any{"id": "s1", "defaultTtlMs": tooLong}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, out := s.do(tt.method, adminToken, tt.action, nil, tt.body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Equal(t, "validation_error", out["error"])
		})
	}

	_, ok := s.manager.GetStrategy("s2")
	assert.False(t, ok)
	st, _ := s.manager.GetStrategy("s1")
	assert.Equal(t, time.Duration(0), st.DefaultTTL)
	assert.Len(t, s.manager.Entries("s1"), 1)
}
