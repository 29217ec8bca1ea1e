package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) *RedisQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = c.Close() })
	q, err := NewFromClient(context.Background(), c, "lumen:documents", "lumen:workers")
	require.NoError(t, err)
	return q
}

func TestEnqueueDequeueAck(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "doc-1"))
	require.NoError(t, q.Enqueue(ctx, "doc-2"))

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, depth)

	msg, id, err := q.Dequeue(ctx, "w1", 10*time.Millisecond)
	require.NoError(t, err)
	assert.NotEmpty(t, msg)
	assert.Equal(t, "doc-1", id)
	require.NoError(t, q.Ack(ctx, msg))

	msg, id, err = q.Dequeue(ctx, "w2", 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "doc-2", id)
	require.NoError(t, q.Ack(ctx, msg))

	depth, err = q.Depth(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, depth)
}

func TestDequeueEmpty(t *testing.T) {
	q := newTestQueue(t)
	msg, id, err := q.Dequeue(context.Background(), "w1", 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, msg)
	assert.Empty(t, id)
}

func TestGroupCreateIdempotent(t *testing.T) {
	q := newTestQueue(t)
	_, err := NewFromClient(context.Background(), q.client, q.Stream, q.Group)
	assert.NoError(t, err)
}

func TestEnqueueRejectsEmptyID(t *testing.T) {
	q := newTestQueue(t)
	assert.Error(t, q.Enqueue(context.Background(), ""))
	assert.NoError(t, q.Ack(context.Background(), ""))
}
