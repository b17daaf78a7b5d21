package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/model-bridge/backend/internal/storage/models"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := NewFromClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestExperimentCache(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)

	exp := &models.Experiment{
		ID:           "exp-1",
		Name:         "cached",
		Variants:     models.Variants{{Key: "b", Config: json.RawMessage(`{}`)}, {Key: "a", Config: json.RawMessage(`{}`)}},
		TrafficSplit: models.TrafficSplit{{Variant: "b", Weight: 0.5}, {Variant: "a", Weight: 0.5}},
		Status:       models.StatusActive,
		ExpiresAt:    time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
	}

	_, ok, err := client.GetExperiment(ctx, "exp-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, client.SetExperiment(ctx, exp, time.Minute))

	got, ok, err := client.GetExperiment(ctx, "exp-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"b", "a"}, got.Variants.Keys())
	assert.Equal(t, exp.TrafficSplit, got.TrafficSplit)
	assert.True(t, exp.ExpiresAt.Equal(got.ExpiresAt))

	mr.FastForward(2 * time.Minute)
	_, ok, err = client.GetExperiment(ctx, "exp-1")
	require.NoError(t, err)
	assert.False(t, ok, "entry expires with its ttl")

	require.NoError(t, client.SetExperiment(ctx, exp, time.Minute))
	require.NoError(t, client.InvalidateExperiment(ctx, "exp-1"))
	_, ok, _ = client.GetExperiment(ctx, "exp-1")
	assert.False(t, ok)
}

func TestAssignmentCounters(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)

	require.NoError(t, client.IncrementAssignment(ctx, "exp-1", "A"))
	require.NoError(t, client.IncrementAssignment(ctx, "exp-1", "A"))
	require.NoError(t, client.IncrementAssignment(ctx, "exp-1", "B"))
	mr.HSet("assignments:exp-1", "C", "garbage")

	counts, err := client.AssignmentCounts(ctx, "exp-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"A": 2, "B": 1}, counts)

	empty, err := client.AssignmentCounts(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestGetExperimentConnectionError(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	client := NewFromClient(goredis.NewClient(&goredis.Options{Addr: addr, MaxRetries: -1}))
	defer client.Close()

	_, _, err = client.GetExperiment(context.Background(), "exp-1")
	assert.Error(t, err)
	assert.Error(t, client.Ping(context.Background()))
}
