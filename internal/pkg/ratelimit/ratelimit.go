package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

// Class identifies an operation class with its own request budget.
type Class string

const (
	ClassImageGeneration  Class = "image-generation"
	ClassPhraseGeneration Class = "phrase-generation"
	ClassUpload           Class = "upload"
	ClassExport           Class = "export"
)

// Tier selects the free or paid request budget. A profile is paid while its
// credit balance is positive.
type Tier string

const (
	TierFree Tier = "free"
	TierPaid Tier = "paid"
)

// Limit is a request budget over a sliding window.
type Limit struct {
	Requests int
	Window   time.Duration
}

// Result reports the limiter decision. On Allowed == false the caller must
// reject the request before performing any mutation; the limiter is
// advisory-before, not a rollback mechanism.
type Result struct {
	Allowed   bool
	Remaining int
}

// defaultLimits carries the per-class free/paid budgets.
var defaultLimits = map[Class]map[Tier]Limit{
	ClassImageGeneration: {
		TierFree: {Requests: 10, Window: time.Hour},
		TierPaid: {Requests: 100, Window: time.Hour},
	},
	ClassPhraseGeneration: {
		TierFree: {Requests: 20, Window: time.Hour},
		TierPaid: {Requests: 200, Window: time.Hour},
	},
	ClassUpload: {
		TierFree: {Requests: 20, Window: time.Hour},
		TierPaid: {Requests: 120, Window: time.Hour},
	},
	ClassExport: {
		TierFree: {Requests: 5, Window: time.Hour},
		TierPaid: {Requests: 30, Window: time.Hour},
	},
}

// Limiter enforces one (class, tier) budget via a Redis ZSET sliding window.
type Limiter struct {
	client *redis.Client
	class  Class
	tier   Tier
	limit  Limit

	now func() time.Time
}

func newLimiter(client *redis.Client, class Class, tier Tier, limit Limit) *Limiter {
	return &Limiter{
		client: client,
		class:  class,
		tier:   tier,
		limit:  limit,
		now:    time.Now,
	}
}

func (l *Limiter) key(identity string) string {
	return fmt.Sprintf("visionboard:%s:%s:%s", l.class, l.tier, identity)
}

// Check records one request attempt for the identity and reports whether it
// fits the window. Redis errors fail open: the limiter protects vendors and
// cost, it is not an integrity boundary.
func (l *Limiter) Check(ctx context.Context, identity string) (Result, error) {
	key := l.key(identity)
	now := l.now()
	windowStart := now.Add(-l.limit.Window)

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.UnixNano(), 10))
	countCmd := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warnf("rate limiter unavailable for %s: %v", key, err)
		return Result{Allowed: true, Remaining: l.limit.Requests}, nil
	}

	used := int(countCmd.Val())
	if used >= l.limit.Requests {
		return Result{Allowed: false, Remaining: 0}, nil
	}

	member := fmt.Sprintf("%d-%d", now.UnixNano(), used)
	add := l.client.TxPipeline()
	add.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: member})
	add.Expire(ctx, key, l.limit.Window)
	if _, err := add.Exec(ctx); err != nil {
		log.Warnf("rate limiter record failed for %s: %v", key, err)
	}

	return Result{Allowed: true, Remaining: l.limit.Requests - used - 1}, nil
}

// Registry hands out limiter instances cached per (class, tier). It is
// constructed once at process start and injected where needed; there is no
// module-level limiter state.
type Registry struct {
	client *redis.Client
	limits map[Class]map[Tier]Limit

	mu       sync.Mutex
	limiters map[string]*Limiter
}

// NewRegistry creates a limiter registry with the default per-class budgets.
func NewRegistry(client *redis.Client) *Registry {
	return &Registry{
		client:   client,
		limits:   defaultLimits,
		limiters: make(map[string]*Limiter),
	}
}

// Limiter returns the cached limiter for a (class, tier) pair. Caching avoids
// reconstruction per request; it carries no correctness weight.
func (r *Registry) Limiter(class Class, isPaid bool) *Limiter {
	tier := TierFree
	if isPaid {
		tier = TierPaid
	}

	cacheKey := string(class) + ":" + string(tier)

	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[cacheKey]; ok {
		return l
	}

	limit, ok := r.limits[class][tier]
	if !ok {
		// Unknown class: generous fallback, still windowed.
		limit = Limit{Requests: 60, Window: time.Hour}
	}
	l := newLimiter(r.client, class, tier, limit)
	r.limiters[cacheKey] = l
	return l
}

// Check is the convenience entry used by handlers.
func (r *Registry) Check(ctx context.Context, identity string, class Class, isPaid bool) (Result, error) {
	return r.Limiter(class, isPaid).Check(ctx, identity)
}
