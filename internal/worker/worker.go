package worker

import (
    "context"
    "fmt"
    "os"
    "time"

    "github.com/rs/zerolog"
    "golang.org/x/sync/errgroup"

    "github.com/Mozzicato/Lumen/internal/logger"
    "github.com/Mozzicato/Lumen/internal/metrics"
)

type Queue interface {
    Dequeue(ctx context.Context, consumer string, block time.Duration) (string, string, error)
    Ack(ctx context.Context, msgID string) error
    Depth(ctx context.Context) (int64, error)
}

// Runner processes one document to a terminal state.
type Runner interface {
    Run(ctx context.Context, documentID string)
}

type Config struct {
    Concurrency int
    Block       time.Duration
    RunTimeout  time.Duration
    Name        string // consumer name prefix; defaults to the hostname
}

// Pool consumes document ids and hands each to the Runner. Runs are never
// cancelled by Stop; it only stops dequeuing and waits for them.
type Pool struct {
    cfg    Config
    q      Queue
    runner Runner
    log    zerolog.Logger

    cancel context.CancelFunc
    group  *errgroup.Group
}

func New(cfg Config, q Queue, r Runner) *Pool {
    if cfg.Concurrency <= 0 { cfg.Concurrency = 2 }
    if cfg.Block <= 0 { cfg.Block = 2 * time.Second }
    if cfg.Name == "" {
        h, _ := os.Hostname()
        if h == "" { h = "lumen" }
        cfg.Name = h
    }
    return &Pool{cfg: cfg, q: q, runner: r, log: logger.For("worker")}
}

func (p *Pool) Start(ctx context.Context) {
    ctx, p.cancel = context.WithCancel(ctx)
    p.group, ctx = errgroup.WithContext(ctx)
    for i := 0; i < p.cfg.Concurrency; i++ {
        id := i
        p.group.Go(func() error { p.loop(ctx, id); return nil })
    }
    p.group.Go(func() error { p.watchDepth(ctx); return nil })
    p.log.Info().Int("concurrency", p.cfg.Concurrency).Msg("worker pool started")
}

// Stop ends dequeuing and waits for in-flight runs or ctx.
func (p *Pool) Stop(ctx context.Context) error {
    if p.cancel == nil { return nil }
    p.cancel()
    done := make(chan error, 1)
    go func() { done <- p.group.Wait() }()
    select {
    case err := <-done:
        p.log.Info().Msg("worker pool stopped")
        return err
    case <-ctx.Done():
        return fmt.Errorf("worker pool stop: %w", ctx.Err())
    }
}

func (p *Pool) loop(ctx context.Context, id int) {
    consumer := fmt.Sprintf("%s-%d", p.cfg.Name, id)
    lg := p.log.With().Str("consumer", consumer).Logger()
    lg.Debug().Msg("worker started")
    for {
        if ctx.Err() != nil {
            lg.Debug().Msg("worker stopped")
            return
        }
        msgID, docID, err := p.q.Dequeue(ctx, consumer, p.cfg.Block)
        if err != nil {
            if ctx.Err() != nil { continue }
            lg.Error().Err(err).Msg("queue dequeue error")
            sleep(ctx, 500*time.Millisecond)
            continue
        }
        if msgID == "" { continue }

        if docID != "" {
            p.runOne(ctx, docID, lg)
        } else {
            lg.Warn().Str("msg_id", msgID).Msg("message without document id")
        }

        ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
        if err := p.q.Ack(ackCtx, msgID); err != nil {
            lg.Error().Err(err).Str("msg_id", msgID).Msg("ack failed")
        }
        cancel()
    }
}

func (p *Pool) runOne(ctx context.Context, docID string, lg zerolog.Logger) {
    runCtx := context.WithoutCancel(ctx)
    if p.cfg.RunTimeout > 0 {
        var cancel context.CancelFunc
        runCtx, cancel = context.WithTimeout(runCtx, p.cfg.RunTimeout)
        defer cancel()
    }
    // last resort; the orchestrator records stage panics as Failed itself
    defer func() {
        if r := recover(); r != nil {
            lg.Error().Interface("panic", r).Str("document_id", docID).Msg("run panicked")
        }
    }()
    p.runner.Run(runCtx, docID)
}

func (p *Pool) watchDepth(ctx context.Context) {
    t := time.NewTicker(10 * time.Second)
    defer t.Stop()
    for {
        if n, err := p.q.Depth(ctx); err == nil { metrics.SetQueueDepth(n) }
        select {
        case <-ctx.Done():
            return
        case <-t.C:
        }
    }
}

func sleep(ctx context.Context, d time.Duration) {
    select {
    case <-ctx.Done():
    case <-time.After(d):
    }
}
