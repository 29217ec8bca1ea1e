package store

import (
    "context"
    "errors"
    "fmt"
    "time"

    "github.com/google/uuid"
    redis "github.com/redis/go-redis/v9"
)

var ErrLeaseHeld = errors.New("document run lease held by another run")

// releaseScript deletes the lease only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RunLease grants one orchestrator run per document at a time.
type RunLease struct {
    client *redis.Client
    ttl    time.Duration
}

func NewRunLease(client *redis.Client, ttl time.Duration) *RunLease {
    if ttl <= 0 { ttl = 15 * time.Minute }
    return &RunLease{client: client, ttl: ttl}
}

func (l *RunLease) key(id string) string { return fmt.Sprintf("lease:doc:%s", id) }

// Acquire takes the lease for id. The returned release func is safe to call
// once the run ends; it never removes a lease taken over after expiry.
func (l *RunLease) Acquire(ctx context.Context, id string) (func(), error) {
    token := uuid.NewString()
    ok, err := l.client.SetNX(ctx, l.key(id), token, l.ttl).Result()
    if err != nil { return nil, fmt.Errorf("acquire lease: %w", err) }
    if !ok { return nil, ErrLeaseHeld }
    return func() {
        ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
        defer cancel()
        _ = releaseScript.Run(ctx, l.client, []string{l.key(id)}, token).Err()
    }, nil
}
