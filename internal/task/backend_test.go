package task

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBackend(t *testing.T, b Backend) {
	ctx := context.Background()
	id := uuid.NewString()

	_, ok, err := b.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	now := time.Now().UTC().Truncate(time.Second)
	want := Result{ID: id, Op: OpSnapshotCreate, Key: "vm-1", State: StateFailure, Error: "boom", Kind: "HypervisorError", Created: now, Updated: now}
	require.NoError(t, b.Put(ctx, want))

	got, ok, err := b.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want.State, got.State)
	assert.Equal(t, want.Error, got.Error)
	assert.Equal(t, want.Kind, got.Kind)
	assert.True(t, want.Created.Equal(got.Created))

	want.State = StateSuccess
	want.Error = ""
	require.NoError(t, b.Put(ctx, want))
	got, _, err = b.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, got.State)
}

func TestMemoryBackend(t *testing.T) {
	testBackend(t, NewMemoryBackend())
}

func TestRedisBackend(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	url := os.Getenv("HEARTH_TEST_REDIS")
	if url == "" {
		t.Skip("HEARTH_TEST_REDIS not set")
	}

	client, err := DialRedis(context.Background(), url)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	testBackend(t, NewRedisBackend(client, time.Minute))
}

func TestRedisBackendFeedsPool(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	url := os.Getenv("HEARTH_TEST_REDIS")
	if url == "" {
		t.Skip("HEARTH_TEST_REDIS not set")
	}

	client, err := DialRedis(context.Background(), url)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	backend := NewRedisBackend(client, time.Minute)
	p := NewPool(map[Op]Handler{OpDefineHost: func(context.Context, json.RawMessage) error { return nil }}, backend, Options{}, nil, nil)
	p.Start(context.Background())
	id := submit(t, p, OpDefineHost, "vm-1", nil)
	require.NoError(t, p.Close(context.Background()))

	// a second pool on the same backend sees the finished result
	other := NewPool(nil, backend, Options{}, nil, nil)
	r, err := other.Poll(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, r.State)
}

func TestDialRedisBadURL(t *testing.T) {
	_, err := DialRedis(context.Background(), "not a url")
	assert.Error(t, err)
}
