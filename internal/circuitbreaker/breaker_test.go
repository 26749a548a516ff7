package circuitbreaker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(t *testing.T, clock *fakeClock) *Breaker {
	b := New("test", "unit", Settings{
		Probes:       2,
		Window:       time.Minute,
		Cooldown:     10 * time.Second,
		TripAfter:    3,
		RecoverAfter: 2,
	}, zaptest.NewLogger(t))
	b.now = clock.Now
	b.resetCounters(clock.Now())
	return b
}

func TestBreakerLifecycle(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	b := newTestBreaker(t, clock)
	ctx := context.Background()
	boom := errors.New("boom")

	var transitions []string
	b.OnStateChange(func(from, to State) { transitions = append(transitions, from.String()+"->"+to.String()) })

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Do(ctx, func(context.Context) error { return boom }), boom)
	}
	assert.Equal(t, StateOpen, b.State())

	called := false
	err := b.Do(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)

	clock.Advance(11 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Do(ctx, func(context.Context) error { return nil }))
	require.NoError(t, b.Do(ctx, func(context.Context) error { return nil }))
	assert.Equal(t, StateClosed, b.State())

	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	b := newTestBreaker(t, clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Do(ctx, func(context.Context) error { return errors.New("x") })
	}
	clock.Advance(11 * time.Second)
	_ = b.Do(ctx, func(context.Context) error { return errors.New("still down") })
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerIgnoresCancellation(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	b := newTestBreaker(t, clock)
	for i := 0; i < 5; i++ {
		_ = b.Do(context.Background(), func(context.Context) error { return context.Canceled })
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestRedisWrapperMissIsNotFailure(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	rw := NewRedisWrapper(client, "session-store-test", zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, rw.Ping(ctx))
	require.NoError(t, rw.Set(ctx, "k", "v", time.Minute))
	v, err := rw.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	for i := 0; i < 10; i++ {
		_, err := rw.Get(ctx, "missing")
		assert.ErrorIs(t, err, redis.Nil)
	}
	assert.Equal(t, StateClosed, rw.Breaker().State())

	n, err := rw.Del(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestHTTPWrapperCountsServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	hw := NewHTTPWrapper(srv.Client(), "http-test", zaptest.NewLogger(t))
	for i := 0; i < 3; i++ {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		resp, err := hw.Do(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
		resp.Body.Close()
	}
	assert.Equal(t, StateOpen, hw.Breaker().State())

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	_, err := hw.Do(req)
	assert.ErrorIs(t, err, ErrOpen)
}
