// Package ratelimiter is a per-source token bucket for the dev server's HTTP
// surface.
package ratelimiter

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	bucketKeyPrefix   = "rl:bucket:"
	lastFillKeyPrefix = "rl:fill:"
	defaultSourceKey  = "X-RateLimit-Key"
)

type Limiter interface {
	Allow(sourceKey string) bool
	GetSourceKey(r *http.Request) string
	Remaining(sourceKey string) int
	GetMaxBurst() int
	// RetryAfter is how long until sourceKey earns its next token.
	RetryAfter(sourceKey string) time.Duration
}

type RateLimiter struct {
	ratePerSecond   int64
	maxBurst        int
	cache           GetterSetter
	cacheTTL        time.Duration
	sourceHeaderKey string
	now             func() time.Time
	locks           sync.Map // map[string]*sync.Mutex
}

type Options struct {
	MaxRatePerSecond int
	MaxBurst         int
	Cache            GetterSetter
	CacheTTL         time.Duration
	SourceHeaderKey  string
}

func New(options Options) *RateLimiter {
	return newRateLimiter(options, time.Now)
}

func newRateLimiter(options Options, now func() time.Time) *RateLimiter {
	if options.Cache == nil {
		options.Cache = NewInMemory()
	}
	if options.CacheTTL == 0 {
		options.CacheTTL = 10 * time.Second
	}
	if options.MaxRatePerSecond <= 0 {
		options.MaxRatePerSecond = 1
	}
	if options.MaxBurst <= 0 {
		options.MaxBurst = options.MaxRatePerSecond
	}
	if options.SourceHeaderKey == "" {
		options.SourceHeaderKey = defaultSourceKey
	}

	return &RateLimiter{
		ratePerSecond:   int64(options.MaxRatePerSecond),
		maxBurst:        options.MaxBurst,
		cache:           options.Cache,
		cacheTTL:        options.CacheTTL,
		sourceHeaderKey: options.SourceHeaderKey,
		now:             now,
	}
}

type bucketState struct {
	tokens   int
	lastFill int64 // unix ms
}

func (rl *RateLimiter) getLock(sourceKey string) *sync.Mutex {
	lock, _ := rl.locks.LoadOrStore(sourceKey, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

func (rl *RateLimiter) getState(sourceKey string, now int64) bucketState {
	bucket, bucketErr := rl.cache.Get(bucketKeyPrefix + sourceKey)
	lastFill, fillErr := rl.cache.Get(lastFillKeyPrefix + sourceKey)

	// A miss starts a full bucket; other cache errors fail open the same way.
	if bucketErr != nil || fillErr != nil {
		return bucketState{tokens: rl.maxBurst, lastFill: now}
	}

	return bucketState{tokens: int(bucket), lastFill: lastFill}
}

func (rl *RateLimiter) setState(sourceKey string, state bucketState) {
	_ = rl.cache.SetWithExpiration(bucketKeyPrefix+sourceKey, int64(state.tokens), rl.cacheTTL)
	_ = rl.cache.SetWithExpiration(lastFillKeyPrefix+sourceKey, state.lastFill, rl.cacheTTL)
}

// refill adds the whole tokens earned since lastFill. lastFill only advances
// by the time those tokens cost, so fractional progress carries over.
func (rl *RateLimiter) refill(state bucketState, now int64) bucketState {
	if state.tokens >= rl.maxBurst {
		return bucketState{tokens: rl.maxBurst, lastFill: now}
	}

	elapsed := now - state.lastFill
	if elapsed <= 0 {
		return state
	}

	earned := int(elapsed * rl.ratePerSecond / 1000)
	if earned <= 0 {
		return state
	}

	tokens := state.tokens + earned
	if tokens >= rl.maxBurst {
		return bucketState{tokens: rl.maxBurst, lastFill: now}
	}

	spent := (int64(earned)*1000 + rl.ratePerSecond - 1) / rl.ratePerSecond
	return bucketState{tokens: tokens, lastFill: state.lastFill + spent}
}

func (rl *RateLimiter) Allow(sourceKey string) bool {
	lock := rl.getLock(sourceKey)
	lock.Lock()
	defer lock.Unlock()

	now := rl.now().UnixMilli()
	state := rl.getState(sourceKey, now)
	next := rl.refill(state, now)

	if next.tokens > 0 {
		next.tokens--
		rl.setState(sourceKey, next)
		return true
	}

	if next != state {
		rl.setState(sourceKey, next)
	}
	return false
}

func (rl *RateLimiter) Remaining(sourceKey string) int {
	lock := rl.getLock(sourceKey)
	lock.Lock()
	defer lock.Unlock()

	now := rl.now().UnixMilli()
	state := rl.getState(sourceKey, now)
	next := rl.refill(state, now)
	if next != state {
		rl.setState(sourceKey, next)
	}
	return next.tokens
}

func (rl *RateLimiter) RetryAfter(sourceKey string) time.Duration {
	lock := rl.getLock(sourceKey)
	lock.Lock()
	defer lock.Unlock()

	now := rl.now().UnixMilli()
	state := rl.refill(rl.getState(sourceKey, now), now)
	if state.tokens > 0 {
		return 0
	}

	perToken := (1000 + rl.ratePerSecond - 1) / rl.ratePerSecond
	wait := state.lastFill + perToken - now
	if wait < 0 {
		wait = 0
	}
	return time.Duration(wait) * time.Millisecond
}

func (rl *RateLimiter) GetMaxBurst() int {
	return rl.maxBurst
}

// GetSourceKey prefers the configured header (first hop only) and falls back
// to the remote IP.
func (rl *RateLimiter) GetSourceKey(r *http.Request) string {
	if key := r.Header.Get(rl.sourceHeaderKey); key != "" {
		first, _, _ := strings.Cut(key, ",")
		return strings.TrimSpace(first)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
