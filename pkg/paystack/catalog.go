package paystack

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/billflow-backend/pkg/errors"
	"github.com/angelmondragon/billflow-backend/pkg/logger"
)

// planFetcher is the provider surface the catalog needs.
type planFetcher interface {
	FetchPlan(ctx context.Context, planCode string) (*Plan, error)
	ListPlans(ctx context.Context) ([]Plan, error)
}

// planCache is the cache surface the catalog needs.
type planCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	PlanCacheKey(planCode string) string
}

// Catalog resolves provider plans with a read-through cache. Plans change
// rarely, so stale entries up to the TTL are acceptable.
type Catalog struct {
	client planFetcher
	cache  planCache
	ttl    time.Duration
	logger *logger.Logger
}

// NewCatalog builds a plan catalog. The cache is optional; without it every
// lookup goes to the provider.
func NewCatalog(client planFetcher, cache planCache, ttl time.Duration, logg *logger.Logger) (*Catalog, error) {
	if client == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "paystack catalog requires a client")
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Catalog{client: client, cache: cache, ttl: ttl, logger: logg}, nil
}

// FindPlan resolves a plan by code, serving from cache when possible.
func (c *Catalog) FindPlan(ctx context.Context, planCode string) (*Plan, error) {
	planCode = strings.TrimSpace(planCode)
	if planCode == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan code is required")
	}

	if cached := c.fromCache(ctx, planCode); cached != nil {
		return cached, nil
	}

	plan, err := c.client.FetchPlan(ctx, planCode)
	if err != nil {
		return nil, err
	}
	c.toCache(ctx, plan)
	return plan, nil
}

// ListPlans returns all provider plans. Listings bypass the cache but refresh
// individual entries as a side effect.
func (c *Catalog) ListPlans(ctx context.Context) ([]Plan, error) {
	plans, err := c.client.ListPlans(ctx)
	if err != nil {
		return nil, err
	}
	for i := range plans {
		c.toCache(ctx, &plans[i])
	}
	return plans, nil
}

// Invalidate drops a cached plan, forcing the next lookup to hit the provider.
func (c *Catalog) Invalidate(ctx context.Context, planCode string) {
	if c.cache == nil || planCode == "" {
		return
	}
	if err := c.cache.Del(ctx, c.cache.PlanCacheKey(planCode)); err != nil && c.logger != nil {
		c.logger.Warn(ctx, "plan cache invalidate failed: "+err.Error())
	}
}

func (c *Catalog) fromCache(ctx context.Context, planCode string) *Plan {
	if c.cache == nil {
		return nil
	}
	raw, err := c.cache.Get(ctx, c.cache.PlanCacheKey(planCode))
	if err != nil || raw == "" {
		return nil
	}
	var plan Plan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return nil
	}
	return &plan
}

func (c *Catalog) toCache(ctx context.Context, plan *Plan) {
	if c.cache == nil || plan == nil || plan.PlanCode == "" {
		return
	}
	encoded, err := json.Marshal(plan)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, c.cache.PlanCacheKey(plan.PlanCode), string(encoded), c.ttl); err != nil && c.logger != nil {
		c.logger.Warn(ctx, "plan cache write failed: "+err.Error())
	}
}
