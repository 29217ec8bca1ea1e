package queue

import (
    "context"
    "errors"
    "fmt"
    "strings"
    "time"

    redis "github.com/redis/go-redis/v9"
)

// RedisQueue carries document ids on a Redis Stream read through a consumer group.
type RedisQueue struct {
    client *redis.Client
    Stream string
    Group  string
}

// NewRedisQueue connects to Redis and ensures the stream and group exist.
func NewRedisQueue(redisURL, stream, group string) (*RedisQueue, error) {
    opt, err := redis.ParseURL(redisURL)
    if err != nil {
        return nil, fmt.Errorf("parse redis url: %w", err)
    }
    c := redis.NewClient(opt)
    ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
    defer cancel()
    if err := c.Ping(ctx).Err(); err != nil {
        return nil, fmt.Errorf("redis ping: %w", err)
    }
    return NewFromClient(ctx, c, stream, group)
}

// NewFromClient wraps an existing client.
func NewFromClient(ctx context.Context, c *redis.Client, stream, group string) (*RedisQueue, error) {
    q := &RedisQueue{client: c, Stream: stream, Group: group}
    // MKSTREAM creates the stream if missing
    if err := c.XGroupCreateMkStream(ctx, stream, group, "0").Err(); err != nil && !isBusyGroupErr(err) {
        return nil, fmt.Errorf("xgroup create: %w", err)
    }
    return q, nil
}

func isBusyGroupErr(err error) bool {
    if err == nil { return false }
    return strings.Contains(strings.ToUpper(err.Error()), "BUSYGROUP")
}

func (q *RedisQueue) Close() error { return q.client.Close() }

// Ping checks redis connectivity.
func (q *RedisQueue) Ping(ctx context.Context) error { return q.client.Ping(ctx).Err() }

// Enqueue adds a document id to the stream.
func (q *RedisQueue) Enqueue(ctx context.Context, documentID string) error {
    if documentID == "" { return errors.New("empty document id") }
    return q.client.XAdd(ctx, &redis.XAddArgs{
        Stream: q.Stream,
        Values: map[string]any{"document_id": documentID},
    }).Err()
}

// Dequeue reads one message for consumer, waiting up to block. It returns
// empty strings and a nil error when nothing arrived in time.
func (q *RedisQueue) Dequeue(ctx context.Context, consumer string, block time.Duration) (string, string, error) {
    if block <= 0 { block = -1 }
    res, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
        Group:    q.Group,
        Consumer: consumer,
        Streams:  []string{q.Stream, ">"},
        Count:    1,
        Block:    block,
    }).Result()
    if err != nil {
        if errors.Is(err, redis.Nil) { return "", "", nil }
        return "", "", err
    }
    if len(res) == 0 || len(res[0].Messages) == 0 { return "", "", nil }
    msg := res[0].Messages[0]
    id, _ := msg.Values["document_id"].(string)
    return msg.ID, id, nil
}

// Ack marks a message as processed and drops it from the stream.
func (q *RedisQueue) Ack(ctx context.Context, msgID string) error {
    if msgID == "" { return nil }
    pipe := q.client.TxPipeline()
    pipe.XAck(ctx, q.Stream, q.Group, msgID)
    pipe.XDel(ctx, q.Stream, msgID)
    _, err := pipe.Exec(ctx)
    return err
}

// Depth returns the number of messages not yet acked.
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
    return q.client.XLen(ctx, q.Stream).Result()
}
