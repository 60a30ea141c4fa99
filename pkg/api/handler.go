// Package api exposes the cache manager over a single action-dispatch HTTP
// resource.
//
// Every request names its operation in the action query parameter and
// carries an Authorization: Bearer token. GET and DELETE read their
// arguments from the query string; POST and PUT from a JSON body.
package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/strategy-cache/pkg/auth"
	"github.com/Sternrassler/strategy-cache/pkg/cache"
)

// DefaultPath is the resource path the handler is mounted on.
const DefaultPath = "/api/caching"

// Context keys set on the gin context.
const (
	// IdentityKey holds the authenticated auth.Identity.
	IdentityKey = "identity"

	// SubjectKey holds the caller subject, picked up by the request logger.
	SubjectKey = "subject"

	// ActionKey holds the action name once it resolved to a known action.
	ActionKey = "action"
)

// result is the payload merged into a success response.
type result = gin.H

// action binds one method/name pair to its role requirement and handler.
type action struct {
	roles  []auth.Role
	handle func(c *gin.Context) (result, error)
}

// Handler serves the cache actions.
type Handler struct {
	manager  *cache.Manager
	resolver auth.Resolver
	logger   zerolog.Logger
	actions  map[string]map[string]action
}

// NewHandler creates a handler dispatching to manager. Tokens are resolved
// by resolver.
func NewHandler(manager *cache.Manager, resolver auth.Resolver) *Handler {
	h := &Handler{
		manager:  manager,
		resolver: resolver,
		logger:   log.With().Str("component", "api").Logger(),
	}

	everyone := []auth.Role(nil)
	ops := auth.Operators

	h.actions = map[string]map[string]action{
		http.MethodGet: {
			"get":                   {everyone, h.get},
			"getStrategies":         {everyone, h.getStrategies},
			"getStrategy":           {everyone, h.getStrategy},
			"getStats":              {everyone, h.getStats},
			"getAllStats":           {everyone, h.getAllStats},
			"getInvalidationRules":  {ops, h.getInvalidationRules},
			"getOptimizations":      {ops, h.getOptimizations},
			"getMemoryCacheEntries": {ops, h.getMemoryCacheEntries},
		},
		http.MethodPost: {
			"set":                    {everyone, h.set},
			"invalidate":             {everyone, h.invalidate},
			"invalidateByTags":       {everyone, h.invalidateByTags},
			"triggerInvalidation":    {everyone, h.triggerInvalidation},
			"createStrategy":         {ops, h.createStrategy},
			"generateOptimizations":  {ops, h.generateOptimizations},
			"createInvalidationRule": {ops, h.createInvalidationRule},
		},
		http.MethodPut: {
			"updateStrategy": {ops, h.updateStrategy},
		},
		http.MethodDelete: {
			"delete":            {everyone, h.delete},
			"applyOptimization": {ops, h.applyOptimization},
		},
	}

	return h
}

// WithLogger replaces the handler logger.
func (h *Handler) WithLogger(logger zerolog.Logger) *Handler {
	h.logger = logger
	return h
}

// Register mounts the resource on r at path.
func (h *Handler) Register(r gin.IRoutes, path string) {
	for method := range h.actions {
		r.Handle(method, path, h.dispatch)
	}
}

// dispatch authenticates, resolves the action, checks roles and runs it.
func (h *Handler) dispatch(c *gin.Context) {
	id, err := h.resolver.Resolve(c.Request.Context(), auth.BearerToken(c.GetHeader("Authorization")))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Set(IdentityKey, id)
	c.Set(SubjectKey, id.Subject)

	name := c.Query("action")
	act, ok := h.actions[c.Request.Method][name]
	if !ok {
		h.fail(c, fmt.Errorf("%w: unknown action %q for %s", errBadRequest, name, c.Request.Method))
		return
	}
	c.Set(ActionKey, name)

	if err := id.Require(act.roles); err != nil {
		h.fail(c, err)
		return
	}

	res, err := act.handle(c)
	if err != nil {
		h.fail(c, err)
		return
	}

	body := gin.H{"success": true}
	for k, v := range res {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}

// bind decodes the request arguments into dst.
func bind(c *gin.Context, dst any) error {
	var err error
	switch c.Request.Method {
	case http.MethodGet, http.MethodDelete:
		err = c.ShouldBindQuery(dst)
	default:
		err = c.ShouldBindJSON(dst)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func (h *Handler) get(c *gin.Context) (result, error) {
	var req keyRequest
	if err := bind(c, &req); err != nil {
		return nil, err
	}
	value, found := h.manager.Get(c.Request.Context(), req.StrategyID, req.Key)
	return result{"key": req.Key, "strategyId": req.StrategyID, "found": found, "value": value}, nil
}

func (h *Handler) getStrategies(c *gin.Context) (result, error) {
	strategies := h.manager.ListStrategies()
	out := make([]strategyDTO, 0, len(strategies))
	for _, s := range strategies {
		out = append(out, toStrategyDTO(s))
	}
	return result{"strategies": out}, nil
}

func (h *Handler) getStrategy(c *gin.Context) (result, error) {
	var req idRequest
	if err := bind(c, &req); err != nil {
		return nil, err
	}
	s, ok := h.manager.GetStrategy(req.ID)
	if !ok {
		return nil, fmt.Errorf("%w: strategy %q", cache.ErrNotFound, req.ID)
	}
	return result{"strategy": toStrategyDTO(s)}, nil
}

func (h *Handler) getStats(c *gin.Context) (result, error) {
	var req strategyIDRequest
	if err := bind(c, &req); err != nil {
		return nil, err
	}
	st, ok := h.manager.GetStats(req.StrategyID)
	if !ok {
		return nil, fmt.Errorf("%w: strategy %q", cache.ErrNotFound, req.StrategyID)
	}
	return result{"stats": st}, nil
}

func (h *Handler) getAllStats(c *gin.Context) (result, error) {
	return result{"stats": h.manager.AllStats()}, nil
}

func (h *Handler) getInvalidationRules(c *gin.Context) (result, error) {
	return result{"rules": h.manager.InvalidationRules()}, nil
}

func (h *Handler) getOptimizations(c *gin.Context) (result, error) {
	return result{"optimizations": toSuggestionDTOs(h.manager.Optimizations())}, nil
}

func (h *Handler) getMemoryCacheEntries(c *gin.Context) (result, error) {
	var req entriesRequest
	if err := bind(c, &req); err != nil {
		return nil, err
	}
	entries := h.manager.Entries(req.StrategyID)
	if entries == nil {
		entries = []cache.EntryInfo{}
	}
	return result{"entries": entries, "count": len(entries)}, nil
}

func (h *Handler) set(c *gin.Context) (result, error) {
	var req setRequest
	if err := bind(c, &req); err != nil {
		return nil, err
	}
	opts := cache.SetOptions{Tags: req.Tags}
	if req.TTLMs != nil {
		ttl, err := millis(*req.TTLMs)
		if err != nil {
			return nil, err
		}
		opts.TTL = &ttl
	}
	if err := h.manager.Set(c.Request.Context(), req.StrategyID, req.Key, req.Value, opts); err != nil {
		return nil, err
	}
	return result{"key": req.Key, "strategyId": req.StrategyID}, nil
}

func (h *Handler) invalidate(c *gin.Context) (result, error) {
	var req invalidateRequest
	if err := bind(c, &req); err != nil {
		return nil, err
	}
	n := h.manager.Invalidate(c.Request.Context(), req.StrategyID, req.Pattern)
	return result{"removed": n}, nil
}

func (h *Handler) invalidateByTags(c *gin.Context) (result, error) {
	var req invalidateByTagsRequest
	if err := bind(c, &req); err != nil {
		return nil, err
	}
	n := h.manager.InvalidateByTags(c.Request.Context(), req.StrategyID, req.Tags)
	return result{"removed": n}, nil
}

func (h *Handler) triggerInvalidation(c *gin.Context) (result, error) {
	var req triggerRequest
	if err := bind(c, &req); err != nil {
		return nil, err
	}
	n := h.manager.TriggerInvalidation(c.Request.Context(), req.Event)
	return result{"event": req.Event, "removed": n}, nil
}

func (h *Handler) createStrategy(c *gin.Context) (result, error) {
	var req createStrategyRequest
	if err := bind(c, &req); err != nil {
		return nil, err
	}
	defaultTTL, err := millis(req.DefaultTTLMs)
	if err != nil {
		return nil, err
	}
	s, err := h.manager.CreateStrategy(cache.StrategyConfig{
		ID:             req.ID,
		MaxEntries:     req.MaxEntries,
		DefaultTTL:     defaultTTL,
		EvictionPolicy: cache.EvictionPolicy(req.EvictionPolicy),
	})
	if err != nil {
		return nil, err
	}
	return result{"strategy": toStrategyDTO(s)}, nil
}

func (h *Handler) generateOptimizations(c *gin.Context) (result, error) {
	return result{"optimizations": toSuggestionDTOs(h.manager.GenerateOptimizations())}, nil
}

func (h *Handler) createInvalidationRule(c *gin.Context) (result, error) {
	var req createRuleRequest
	if err := bind(c, &req); err != nil {
		return nil, err
	}
	rule, err := h.manager.AddInvalidationRule(cache.InvalidationRule{
		ID:         req.ID,
		StrategyID: req.StrategyID,
		Event:      req.Event,
		Pattern:    req.Pattern,
		Tags:       req.Tags,
	})
	if err != nil {
		return nil, err
	}
	return result{"rule": rule}, nil
}

func (h *Handler) updateStrategy(c *gin.Context) (result, error) {
	var req updateStrategyRequest
	if err := bind(c, &req); err != nil {
		return nil, err
	}
	upd, err := req.update()
	if err != nil {
		return nil, err
	}
	if upd.IsEmpty() {
		return nil, fmt.Errorf("%w: nothing to update", cache.ErrValidation)
	}
	ok, err := h.manager.UpdateStrategy(c.Request.Context(), req.ID, upd)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: strategy %q", cache.ErrNotFound, req.ID)
	}
	s, _ := h.manager.GetStrategy(req.ID)
	return result{"strategy": toStrategyDTO(s)}, nil
}

func (h *Handler) delete(c *gin.Context) (result, error) {
	var req keyRequest
	if err := bind(c, &req); err != nil {
		return nil, err
	}
	if !h.manager.Delete(c.Request.Context(), req.StrategyID, req.Key) {
		return nil, fmt.Errorf("%w: key %q in %q", cache.ErrNotFound, req.Key, req.StrategyID)
	}
	return result{"key": req.Key, "strategyId": req.StrategyID}, nil
}

func (h *Handler) applyOptimization(c *gin.Context) (result, error) {
	var req idRequest
	if err := bind(c, &req); err != nil {
		return nil, err
	}
	if !h.manager.ApplyOptimization(c.Request.Context(), req.ID) {
		return nil, fmt.Errorf("%w: suggestion %q", cache.ErrNotFound, req.ID)
	}
	return result{"id": req.ID}, nil
}

// Identity returns the caller identity stored by the handler.
func Identity(c *gin.Context) (auth.Identity, bool) {
	v, ok := c.Get(IdentityKey)
	if !ok {
		return auth.Identity{}, false
	}
	id, ok := v.(auth.Identity)
	return id, ok
}
