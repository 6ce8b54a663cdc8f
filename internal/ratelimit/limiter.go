// Package ratelimit enforces per-client request quotas over a sliding window.
//
// Every (client identity, quota tier) pair owns one key in a shared counter
// store. The key holds the epoch-second timestamps of the admitted requests
// that are still inside the window, so several stateless service instances
// observe the same quota. Read-modify-write is not serialized: two concurrent
// requests of one client may both be admitted, which makes the quota a soft
// limit under contention.
package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Tier is a class of caller with its own request ceiling.
type Tier string

const (
	// TierDemo is the quota of anonymous callers.
	TierDemo Tier = "demo"
	// TierFree is the quota of authenticated callers.
	TierFree Tier = "free"
)

const (
	DefaultWindow    = 24 * time.Hour
	defaultKeyPrefix = "rate_limit"
)

// Decision describes an admitted request.
type Decision struct {
	Tier      Tier
	Limit     int
	Remaining int
	// Reset is the epoch second at which the oldest counted request leaves
	// the window.
	Reset int64
}

// Observer is notified about every decision the limiter takes.
type Observer func(tier Tier, allowed bool)

type Limiter struct {
	store    CounterStore
	window   time.Duration
	limits   map[Tier]int
	prefix   string
	now      func() time.Time
	logger   *zap.Logger
	observer Observer
}

type Option func(*Limiter)

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func WithKeyPrefix(prefix string) Option {
	return func(l *Limiter) {
		if prefix = strings.Trim(prefix, ": "); prefix != "" {
			l.prefix = prefix
		}
	}
}

func WithObserver(observer Observer) Option {
	return func(l *Limiter) { l.observer = observer }
}

// New creates a limiter backed by store. limits maps every supported tier to
// its maximum number of requests per window.
func New(store CounterStore, window time.Duration, limits map[Tier]int, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, fmt.Errorf("counter store is required")
	}
	if window < time.Second {
		return nil, fmt.Errorf("rate limit window must be at least one second, got %s", window)
	}
	if len(limits) == 0 {
		return nil, fmt.Errorf("at least one quota tier is required")
	}

	copied := make(map[Tier]int, len(limits))
	for tier, limit := range limits {
		if limit < 0 {
			return nil, fmt.Errorf("quota of tier %q must not be negative", tier)
		}
		copied[tier] = limit
	}

	l := &Limiter{
		store:  store,
		window: window,
		limits: copied,
		prefix: defaultKeyPrefix,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}

	return l, nil
}

// Limit returns the configured maximum of tier.
func (l *Limiter) Limit(tier Tier) int {
	return l.limits[tier]
}

// Window returns the length of the sliding window.
func (l *Limiter) Window() time.Duration {
	return l.window
}

// CheckAndConsume admits the request of identity under tier or rejects it
// with an *ExceededError. A rejection leaves the stored sequence untouched.
func (l *Limiter) CheckAndConsume(ctx context.Context, identity string, tier Tier) (Decision, error) {
	limit, ok := l.limits[tier]
	if !ok {
		return Decision{}, fmt.Errorf("unknown quota tier %q", tier)
	}

	key := l.key(identity, tier)
	now := l.now().Unix()
	window := int64(l.window / time.Second)

	raw, found, err := l.store.Get(ctx, key)
	if err != nil {
		return Decision{}, unavailable("read counter", err)
	}

	stamps := activeStamps(l.decode(key, raw, found), now, window)

	if len(stamps) >= limit {
		oldest := now
		if len(stamps) > 0 {
			oldest = slices.Min(stamps)
		}
		l.observe(tier, false)
		return Decision{}, newExceededError(tier, limit, oldest+window, oldest+window-now)
	}

	stamps = append(stamps, now)

	payload, err := json.Marshal(stamps)
	if err != nil {
		return Decision{}, fmt.Errorf("encode counter: %w", err)
	}

	if err := l.store.Set(ctx, key, string(payload), l.window); err != nil {
		return Decision{}, unavailable("write counter", err)
	}

	l.observe(tier, true)

	return Decision{
		Tier:      tier,
		Limit:     limit,
		Remaining: limit - len(stamps),
		Reset:     slices.Min(stamps) + window,
	}, nil
}

func (l *Limiter) key(identity string, tier Tier) string {
	return fmt.Sprintf("%s:%s:%s", l.prefix, tier, identity)
}

// decode never fails: an unreadable payload is treated as an empty sequence.
func (l *Limiter) decode(key, raw string, found bool) []int64 {
	if !found || raw == "" {
		return nil
	}

	var stamps []int64
	if err := json.Unmarshal([]byte(raw), &stamps); err != nil {
		l.logger.Warn("discarding undecodable rate limit counter",
			zap.String("key", key),
			zap.Error(err),
		)
		return nil
	}

	return stamps
}

func (l *Limiter) observe(tier Tier, allowed bool) {
	if l.observer != nil {
		l.observer(tier, allowed)
	}
}

// activeStamps keeps the timestamps inside the half-open window (now-window, now].
func activeStamps(stamps []int64, now, window int64) []int64 {
	active := stamps[:0]
	for _, ts := range stamps {
		if now-ts < window {
			active = append(active, ts)
		}
	}
	return active
}
