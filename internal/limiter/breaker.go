package limiter

import (
    "context"
    "fmt"
    "strings"
    "time"

    redis "github.com/redis/go-redis/v9"
    "github.com/rs/zerolog/log"
)

// Breaker keeps a per provider:model cooldown in Redis so every worker process
// skips a backend that keeps failing. Cooldowns double per consecutive open.
type Breaker struct {
    rdb         *redis.Client
    baseBackoff time.Duration
    maxBackoff  time.Duration
    now         func() time.Time
}

func NewBreaker(rdb *redis.Client, base, max time.Duration) *Breaker {
    if base <= 0 { base = 30 * time.Second }
    if max <= 0 { max = 5 * time.Minute }
    if max < base { max = base }
    return &Breaker{rdb: rdb, baseBackoff: base, maxBackoff: max, now: time.Now}
}

func (b *Breaker) key(provider, model string) string {
    return fmt.Sprintf("cb:%s:%s", strings.ToLower(provider), strings.ToLower(model))
}

// IsOpen returns true while the cooldown is active.
func (b *Breaker) IsOpen(ctx context.Context, provider, model string) bool {
    until, err := b.rdb.Get(ctx, b.key(provider, model)).Int64()
    if err != nil { return false }
    return b.now().Unix() < until
}

// Open sets or extends the cooldown.
func (b *Breaker) Open(ctx context.Context, provider, model string) {
    k := b.key(provider, model)
    attempts, _ := b.rdb.Incr(ctx, k+":attempts").Result()
    if attempts < 1 { attempts = 1 }
    d := b.Backoff(int(attempts))
    until := b.now().Add(d).Unix()
    pipe := b.rdb.TxPipeline()
    pipe.Set(ctx, k, until, d)
    // attempts outlive one cooldown so repeated failures keep doubling
    pipe.Expire(ctx, k+":attempts", 2*b.maxBackoff)
    if _, err := pipe.Exec(ctx); err != nil {
        log.Warn().Err(err).Str("provider", provider).Str("model", model).Msg("circuit breaker write failed")
        return
    }
    log.Warn().
        Str("provider", provider).
        Str("model", model).
        Dur("cooldown", d).
        Int64("failures", attempts).
        Msg("circuit breaker OPENED")
}

// Close resets the breaker after a success.
func (b *Breaker) Close(ctx context.Context, provider, model string) {
    k := b.key(provider, model)
    n, _ := b.rdb.Del(ctx, k, k+":attempts").Result()
    if n > 0 {
        log.Info().Str("provider", provider).Str("model", model).Msg("circuit breaker CLOSED (reset)")
    }
}

// Backoff is the cooldown after the given number of consecutive failures.
func (b *Breaker) Backoff(attempts int) time.Duration {
    d := b.baseBackoff
    for i := 1; i < attempts; i++ {
        d *= 2
        if d >= b.maxBackoff { return b.maxBackoff }
    }
    return d
}
