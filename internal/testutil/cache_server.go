// Package testutil provides testing utilities for the cache API.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/strategy-cache/pkg/api"
	"github.com/Sternrassler/strategy-cache/pkg/auth"
	"github.com/Sternrassler/strategy-cache/pkg/cache"
)

// Tokens accepted by CacheServer.
const (
	AdminToken  = "admin-token"
	DevOpsToken = "devops-token"
	UserToken   = "user-token"
)

// Failure is an injected response returned instead of dispatching.
type Failure struct {
	StatusCode int
	Body       string
	Delay      time.Duration
}

// CacheServer runs the cache API on an httptest server backed by a real
// manager.
type CacheServer struct {
	Manager *cache.Manager

	server   *httptest.Server
	mu       sync.Mutex
	failures []Failure

	// Tracking
	requestCount int
	lastHeader   http.Header
}

// NewCacheServer starts a server. opts configure the manager.
func NewCacheServer(opts ...cache.Option) *CacheServer {
	gin.SetMode(gin.TestMode)

	opts = append([]cache.Option{cache.WithLogger(zerolog.Nop())}, opts...)
	s := &CacheServer{Manager: cache.NewManager(opts...)}

	tokens, err := auth.NewStaticTokens([]auth.Token{
		{Token: AdminToken, Subject: "admin", Roles: []string{string(auth.RoleAdmin)}},
		{Token: DevOpsToken, Subject: "devops", Roles: []string{string(auth.RoleDevOps)}},
		{Token: UserToken, Subject: "user", Roles: []string{string(auth.RoleUser)}},
	})
	if err != nil {
		panic(err)
	}

	r := gin.New()
	r.Use(s.track)
	api.NewHandler(s.Manager, tokens).WithLogger(zerolog.Nop()).Register(r, api.DefaultPath)

	s.server = httptest.NewServer(r)
	return s
}

// URL returns the resource URL, suitable as a client base URL.
func (s *CacheServer) URL() string {
	return s.server.URL + api.DefaultPath
}

// Close shuts down the server.
func (s *CacheServer) Close() {
	s.server.Close()
}

// FailNext makes the next requests answer with the given failures in order.
func (s *CacheServer) FailNext(failures ...Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, failures...)
}

// Requests returns the number of requests received.
func (s *CacheServer) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requestCount
}

// LastHeader returns the headers of the last request.
func (s *CacheServer) LastHeader() http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHeader
}

// Reset clears tracking counters and pending failures.
func (s *CacheServer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requestCount = 0
	s.lastHeader = nil
	s.failures = nil
}

func (s *CacheServer) track(c *gin.Context) {
	s.mu.Lock()
	s.requestCount++
	s.lastHeader = c.Request.Header.Clone()
	var f *Failure
	if len(s.failures) > 0 {
		f = &s.failures[0]
		s.failures = s.failures[1:]
	}
	s.mu.Unlock()

	if f == nil {
		c.Next()
		return
	}
	if f.Delay > 0 {
		time.Sleep(f.Delay)
	}
	c.Data(f.StatusCode, "application/json; charset=utf-8", []byte(f.Body))
	c.Abort()
}

// NewServerErrorFailure creates a 500 response.
func NewServerErrorFailure() Failure {
	return Failure{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error":"internal_error"}`,
	}
}

// NewUnavailableFailure creates a 503 response.
func NewUnavailableFailure() Failure {
	return Failure{
		StatusCode: http.StatusServiceUnavailable,
		Body:       `{"error":"unavailable"}`,
	}
}
