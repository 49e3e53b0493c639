package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketplace-payments/pkg/config"
)

func TestKeys(t *testing.T) {
	c := &Client{}
	assert.Equal(t, "marketpay:idempotency:scope:id", c.IdempotencyKey("scope", "id"))
	assert.Equal(t, "marketpay:lock:cron-worker:prod", c.LockKey("cron-worker:prod"))
	assert.Equal(t, "marketpay:idempotency:refund", c.IdempotencyKey("refund", " "))
	assert.Equal(t, "marketpay", Key())
}

func TestOptions(t *testing.T) {
	cfg := config.RedisConfig{
		URL:         "redis://:pw@cache:6380/2",
		DB:          5,
		PoolSize:    7,
		DialTimeout: 3 * time.Second,
	}
	opts, err := options(cfg)
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, "pw", opts.Password)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 7, opts.PoolSize)
	assert.Equal(t, 3*time.Second, opts.DialTimeout)

	opts, err = options(config.RedisConfig{Address: "localhost:6379", DB: 1})
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, 1, opts.DB)

	_, err = options(config.RedisConfig{})
	assert.Error(t, err)
	_, err = options(config.RedisConfig{URL: "mysql://nope"})
	assert.Error(t, err)
}

func TestSetNXOnlyOnce(t *testing.T) {
	ctx := context.Background()
	c := &Client{cmd: newFakeCommands()}

	ok, err := c.SetNX(ctx, "marketpay:lock:sweep", "owner-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.SetNX(ctx, "marketpay:lock:sweep", "owner-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	held, err := c.Get(ctx, "marketpay:lock:sweep")
	require.NoError(t, err)
	assert.Equal(t, "owner-1", held)

	_, err = c.Get(ctx, "missing")
	assert.ErrorIs(t, err, redis.Nil)
}

func TestDeleteIfValueChecksOwner(t *testing.T) {
	ctx := context.Background()
	fake := newFakeCommands()
	fake.data["k"] = "owner-1"
	c := &Client{cmd: fake}

	deleted, err := c.DeleteIfValue(ctx, "k", "owner-2")
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.Contains(t, fake.data, "k")

	deleted, err = c.DeleteIfValue(ctx, "k", "owner-1")
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.NotContains(t, fake.data, "k")
}

func TestUnconnectedClient(t *testing.T) {
	c := &Client{}
	_, err := c.Get(context.Background(), "k")
	assert.ErrorIs(t, err, errNotConnected)
	assert.ErrorIs(t, c.Ping(context.Background()), errNotConnected)
	assert.ErrorIs(t, c.Del(context.Background(), "k"), errNotConnected)
	assert.NoError(t, c.Close())
}

type fakeCommands struct {
	data map[string]string
}

func newFakeCommands() *fakeCommands {
	return &fakeCommands{data: map[string]string{}}
}

func (f *fakeCommands) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (f *fakeCommands) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeCommands) SetNX(_ context.Context, key string, value any, _ time.Duration) *redis.BoolCmd {
	if _, ok := f.data[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeCommands) Del(_ context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(f.data, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

// Eval only understands the owner-checked release script.
func (f *fakeCommands) Eval(_ context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	if len(keys) == 1 && len(args) == 1 && f.data[keys[0]] == fmt.Sprint(args[0]) {
		delete(f.data, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}
