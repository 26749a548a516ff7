package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/farmwise/farmwise/go/orchestrator/internal/circuitbreaker"
)

func newTestStore(t *testing.T, ttl time.Duration) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	logger := zaptest.NewLogger(t)
	client := circuitbreaker.NewRedisWrapper(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "session-test", logger)
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client, "staging", ttl, logger), mr
}

func TestGetMissReturnsNotFound(t *testing.T) {
	store, _ := newTestStore(t, time.Hour)
	_, err := store.Get(context.Background(), "254700000001")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSetGetUsesNamespacedKeyAndTTL(t *testing.T) {
	store, mr := newTestStore(t, 90*time.Minute)
	ctx := context.Background()

	state := &State{CurrentAgent: "Maize Variety Selector", ThreadID: "thread-1", ContinuationToken: "tok-1"}
	require.NoError(t, store.Set(ctx, "254700000001", state))

	assert.True(t, mr.Exists("staging:session:254700000001"))
	assert.Equal(t, 90*time.Minute, mr.TTL("staging:session:254700000001"))

	got, err := store.Get(ctx, "254700000001")
	require.NoError(t, err)
	assert.Equal(t, "Maize Variety Selector", got.CurrentAgent)
	assert.Equal(t, "thread-1", got.ThreadID)
	assert.Equal(t, "tok-1", got.ContinuationToken)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestWriteRefreshesTTL(t *testing.T) {
	store, mr := newTestStore(t, time.Hour)
	ctx := context.Background()
	key := store.Key("254700000002")

	require.NoError(t, store.Set(ctx, "254700000002", &State{CurrentAgent: "Triage Agent", ThreadID: "t"}))
	mr.FastForward(50 * time.Minute)
	require.NoError(t, store.Set(ctx, "254700000002", &State{CurrentAgent: "Triage Agent", ThreadID: "t"}))
	assert.Equal(t, time.Hour, mr.TTL(key))

	mr.FastForward(61 * time.Minute)
	_, err := store.Get(ctx, "254700000002")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestEnvironmentsDoNotCollide(t *testing.T) {
	mr := miniredis.RunT(t)
	logger := zaptest.NewLogger(t)
	client := circuitbreaker.NewRedisWrapper(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "session-test", logger)
	prod := NewStore(client, "prod", time.Hour, logger)
	dev := NewStore(client, "dev", time.Hour, logger)
	ctx := context.Background()

	require.NoError(t, prod.Set(ctx, "254700000003", &State{CurrentAgent: "Soil Advisory Agent", ThreadID: "p"}))
	_, err := dev.Get(ctx, "254700000003")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCorruptSessionIsInvalid(t *testing.T) {
	store, mr := newTestStore(t, time.Hour)
	require.NoError(t, mr.Set(store.Key("254700000004"), "{not json"))

	_, err := store.Get(context.Background(), "254700000004")
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestDelete(t *testing.T) {
	store, mr := newTestStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "254700000005", &State{CurrentAgent: "Triage Agent", ThreadID: "t"}))
	require.NoError(t, store.Delete(ctx, "254700000005"))
	assert.False(t, mr.Exists(store.Key("254700000005")))
	require.NoError(t, store.Delete(ctx, "254700000005"))
}
