package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/spigell/cv-matcher/internal/apperr"
)

const (
	testIdentity = "10.0.0.1:test-agent"
	day          = int64(86400)
)

type fakeClock struct {
	mu  sync.Mutex
	now int64
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Unix(c.now, 0)
}

func (c *fakeClock) Set(sec int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = sec
}

func newRedisLimiter(t *testing.T, limits map[Tier]int) (*Limiter, *miniredis.Miniredis, *fakeClock) {
	t.Helper()

	mr := miniredis.RunT(t)
	cli := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cli.Close() })

	clock := &fakeClock{}
	limiter, err := New(NewRedisStore(cli), DefaultWindow, limits, WithClock(clock.Now))
	require.NoError(t, err)

	return limiter, mr, clock
}

func storedStamps(t *testing.T, mr *miniredis.Miniredis, key string) []int64 {
	t.Helper()

	raw, err := mr.Get(key)
	require.NoError(t, err)

	var stamps []int64
	require.NoError(t, json.Unmarshal([]byte(raw), &stamps))
	return stamps
}

func TestLimiterScenario(t *testing.T) {
	limiter, mr, clock := newRedisLimiter(t, map[Tier]int{TierFree: 3})
	ctx := context.Background()

	for i, ts := range []int64{0, 10, 20} {
		clock.Set(ts)
		decision, err := limiter.CheckAndConsume(ctx, testIdentity, TierFree)
		require.NoError(t, err)
		require.Equal(t, 3, decision.Limit)
		require.Equal(t, 2-i, decision.Remaining)
		require.Equal(t, day, decision.Reset)
	}

	clock.Set(30)
	_, err := limiter.CheckAndConsume(ctx, testIdentity, TierFree)

	var exceeded *ExceededError
	require.ErrorAs(t, err, &exceeded)
	require.Equal(t, apperr.KindRateLimited, apperr.KindOf(err))
	require.Equal(t, "Rate limit exceeded. Try again in 23h 59m.", exceeded.UserMessage())
	require.Equal(t, int64(86370), exceeded.RetryAfter())
	require.Equal(t, day, exceeded.Reset)
	require.Equal(t, map[string]string{
		"Retry-After":            "86370",
		"X-Rate-Limit-Limit":     "3",
		"X-Rate-Limit-Remaining": "0",
		"X-Rate-Limit-Reset":     "86400",
	}, exceeded.Headers())

	// Only ts=0 has left the window: 86401-10 and 86401-20 are still below it.
	clock.Set(86401)
	decision, err := limiter.CheckAndConsume(ctx, testIdentity, TierFree)
	require.NoError(t, err)
	require.Equal(t, 0, decision.Remaining)
	require.Equal(t, int64(86410), decision.Reset)
	require.Equal(t, []int64{10, 20, 86401}, storedStamps(t, mr, "rate_limit:free:"+testIdentity))

	// At 86421 both ts=10 and ts=20 are exactly a window old or older.
	clock.Set(86421)
	decision, err = limiter.CheckAndConsume(ctx, testIdentity, TierFree)
	require.NoError(t, err)
	require.Equal(t, 1, decision.Remaining)
	require.Equal(t, int64(86401+day), decision.Reset)
	require.Equal(t, []int64{86401, 86421}, storedStamps(t, mr, "rate_limit:free:"+testIdentity))
}

func TestLimiterWindowIsHalfOpen(t *testing.T) {
	limiter, _, clock := newRedisLimiter(t, map[Tier]int{TierDemo: 1})
	ctx := context.Background()

	clock.Set(100)
	_, err := limiter.CheckAndConsume(ctx, testIdentity, TierDemo)
	require.NoError(t, err)

	clock.Set(100 + day - 1)
	_, err = limiter.CheckAndConsume(ctx, testIdentity, TierDemo)
	var exceeded *ExceededError
	require.ErrorAs(t, err, &exceeded)
	require.Equal(t, int64(1), exceeded.RetryAfter())
	require.Equal(t, "Rate limit exceeded. Try again in 0m.", exceeded.UserMessage())

	// A timestamp exactly one window old no longer counts.
	clock.Set(100 + day)
	decision, err := limiter.CheckAndConsume(ctx, testIdentity, TierDemo)
	require.NoError(t, err)
	require.Equal(t, 0, decision.Remaining)
}

func TestLimiterRejectionDoesNotAppend(t *testing.T) {
	limiter, mr, clock := newRedisLimiter(t, map[Tier]int{TierFree: 2})
	ctx := context.Background()
	key := "rate_limit:free:" + testIdentity

	for _, ts := range []int64{1, 2} {
		clock.Set(ts)
		_, err := limiter.CheckAndConsume(ctx, testIdentity, TierFree)
		require.NoError(t, err)
	}
	afterAdmitted := storedStamps(t, mr, key)

	for ts := int64(3); ts < 8; ts++ {
		clock.Set(ts)
		_, err := limiter.CheckAndConsume(ctx, testIdentity, TierFree)
		require.Equal(t, apperr.KindRateLimited, apperr.KindOf(err))
	}

	require.Equal(t, afterAdmitted, storedStamps(t, mr, key))
}

func TestLimiterNeverExceedsLimitWithinAnyWindow(t *testing.T) {
	const limit = 4
	limiter, _, clock := newRedisLimiter(t, map[Tier]int{TierFree: limit})
	ctx := context.Background()

	steps := []int64{1, 7, 3600, 50, 40000, 20000, 30000, 1, 86399, 2, 3, 60000, 10, 100000, 5}
	var admitted []int64
	now := int64(0)
	for round := 0; round < 6; round++ {
		for _, step := range steps {
			now += step
			clock.Set(now)
			decision, err := limiter.CheckAndConsume(ctx, testIdentity, TierFree)
			if err != nil {
				require.Equal(t, apperr.KindRateLimited, apperr.KindOf(err))
				continue
			}
			admitted = append(admitted, now)

			inWindow := 0
			for _, ts := range admitted {
				if now-ts < day {
					inWindow++
				}
			}
			require.LessOrEqual(t, inWindow, limit)
			require.Equal(t, limit-inWindow, decision.Remaining)
		}
	}
	require.NotEmpty(t, admitted)
}

func TestLimiterTreatsCorruptPayloadAsEmpty(t *testing.T) {
	limiter, mr, clock := newRedisLimiter(t, map[Tier]int{TierFree: 3})
	key := "rate_limit:free:" + testIdentity
	require.NoError(t, mr.Set(key, "{not json"))

	clock.Set(500)
	decision, err := limiter.CheckAndConsume(context.Background(), testIdentity, TierFree)
	require.NoError(t, err)
	require.Equal(t, 2, decision.Remaining)
	require.Equal(t, []int64{500}, storedStamps(t, mr, key))
}

func TestLimiterRefreshesTTLOnEveryAdmission(t *testing.T) {
	limiter, mr, clock := newRedisLimiter(t, map[Tier]int{TierFree: 5})
	ctx := context.Background()
	key := "rate_limit:free:" + testIdentity

	clock.Set(0)
	_, err := limiter.CheckAndConsume(ctx, testIdentity, TierFree)
	require.NoError(t, err)
	require.Equal(t, DefaultWindow, mr.TTL(key))

	mr.FastForward(6 * time.Hour)
	require.Equal(t, 18*time.Hour, mr.TTL(key))

	clock.Set(6 * 3600)
	_, err = limiter.CheckAndConsume(ctx, testIdentity, TierFree)
	require.NoError(t, err)
	require.Equal(t, DefaultWindow, mr.TTL(key))
}

func TestLimiterTiersDoNotShareCounters(t *testing.T) {
	limiter, _, clock := newRedisLimiter(t, map[Tier]int{TierDemo: 1, TierFree: 1})
	ctx := context.Background()
	clock.Set(10)

	_, err := limiter.CheckAndConsume(ctx, testIdentity, TierDemo)
	require.NoError(t, err)
	_, err = limiter.CheckAndConsume(ctx, testIdentity, TierDemo)
	require.Equal(t, apperr.KindRateLimited, apperr.KindOf(err))

	decision, err := limiter.CheckAndConsume(ctx, testIdentity, TierFree)
	require.NoError(t, err)
	require.Equal(t, 0, decision.Remaining)
}

func TestLimiterZeroQuotaRejectsEverything(t *testing.T) {
	limiter, _, clock := newRedisLimiter(t, map[Tier]int{TierDemo: 0})
	clock.Set(1000)

	_, err := limiter.CheckAndConsume(context.Background(), testIdentity, TierDemo)
	var exceeded *ExceededError
	require.ErrorAs(t, err, &exceeded)
	require.Equal(t, 1000+day, exceeded.Reset)
}

func TestLimiterUnknownTier(t *testing.T) {
	limiter, _, _ := newRedisLimiter(t, map[Tier]int{TierDemo: 1})

	_, err := limiter.CheckAndConsume(context.Background(), testIdentity, TierFree)
	require.Error(t, err)
	require.Equal(t, apperr.KindInternal, apperr.KindOf(err))
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("connection refused")
}

func (failingStore) Set(context.Context, string, string, time.Duration) error {
	return errors.New("connection refused")
}

func TestLimiterStoreFailureIsUpstream(t *testing.T) {
	limiter, err := New(failingStore{}, DefaultWindow, map[Tier]int{TierFree: 1})
	require.NoError(t, err)

	_, err = limiter.CheckAndConsume(context.Background(), testIdentity, TierFree)
	require.Equal(t, apperr.KindUpstream, apperr.KindOf(err))
	require.ErrorIs(t, err, ErrUnavailable)
}

// barrierStore lets every reader observe the same snapshot before any writer
// runs, reproducing the read-modify-write race.
type barrierStore struct {
	mu      sync.Mutex
	values  map[string]string
	readers sync.WaitGroup
}

func (s *barrierStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	value, ok := s.values[key]
	s.mu.Unlock()

	s.readers.Done()
	s.readers.Wait()
	return value, ok, nil
}

func (s *barrierStore) Set(_ context.Context, key, value string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

// Concurrent requests of one identity may both be admitted; the quota is a
// soft limit under contention.
func TestLimiterConcurrentRequestsAreSoftLimited(t *testing.T) {
	const racers = 2
	store := &barrierStore{values: make(map[string]string)}
	store.readers.Add(racers)

	limiter, err := New(store, DefaultWindow, map[Tier]int{TierFree: 1}, WithClock(func() time.Time { return time.Unix(42, 0) }))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := range racers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = limiter.CheckAndConsume(context.Background(), testIdentity, TierFree)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
}

func TestNewValidatesArguments(t *testing.T) {
	_, err := New(nil, DefaultWindow, map[Tier]int{TierFree: 1})
	require.Error(t, err)

	_, err = New(failingStore{}, time.Millisecond, map[Tier]int{TierFree: 1})
	require.Error(t, err)

	_, err = New(failingStore{}, DefaultWindow, nil)
	require.Error(t, err)

	_, err = New(failingStore{}, DefaultWindow, map[Tier]int{TierFree: -1})
	require.Error(t, err)
}

func TestFormatWait(t *testing.T) {
	t.Parallel()

	tests := []struct {
		seconds int64
		expect  string
	}{
		{seconds: 0, expect: "0m"},
		{seconds: 59, expect: "0m"},
		{seconds: 61, expect: "1m"},
		{seconds: 3600, expect: "1h 0m"},
		{seconds: 86370, expect: "23h 59m"},
		{seconds: -5, expect: "0m"},
	}

	for _, tt := range tests {
		if got := FormatWait(tt.seconds); got != tt.expect {
			t.Fatalf("FormatWait(%d): expected %q, got %q", tt.seconds, tt.expect, got)
		}
	}
}
