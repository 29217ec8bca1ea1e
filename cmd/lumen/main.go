package main

import (
    "context"
    "errors"
    "net/http"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/joho/godotenv"
    "github.com/rs/zerolog/log"

    "github.com/Mozzicato/Lumen/internal/api"
    cfgpkg "github.com/Mozzicato/Lumen/internal/config"
    "github.com/Mozzicato/Lumen/internal/extract"
    "github.com/Mozzicato/Lumen/internal/filetype"
    "github.com/Mozzicato/Lumen/internal/format"
    "github.com/Mozzicato/Lumen/internal/limiter"
    logpkg "github.com/Mozzicato/Lumen/internal/logger"
    "github.com/Mozzicato/Lumen/internal/metrics"
    "github.com/Mozzicato/Lumen/internal/ocr/tesseract"
    "github.com/Mozzicato/Lumen/internal/pipeline"
    "github.com/Mozzicato/Lumen/internal/queue"
    "github.com/Mozzicato/Lumen/internal/render"
    "github.com/Mozzicato/Lumen/internal/statuscheck"
    "github.com/Mozzicato/Lumen/internal/storage"
    "github.com/Mozzicato/Lumen/internal/store"
    "github.com/Mozzicato/Lumen/internal/worker"
)

func main() {
    // .env is optional
    _ = godotenv.Load()
    cfg := cfgpkg.FromEnv()

    // Init logging
    if err := logpkg.Init(logpkg.Options{
        Level: cfg.Logging.Level,
        Pretty: cfg.Logging.Pretty,
        File: cfg.Logging.File,
        MaxSizeMB: cfg.Logging.MaxSizeMB,
        MaxBackups: cfg.Logging.MaxBackups,
        MaxAgeDays: cfg.Logging.MaxAgeDays,
        Compress: cfg.Logging.Compress,
        SendToAxiom: cfg.Axiom.Send && cfg.Axiom.APIKey != "",
        AxiomAPIKey: cfg.Axiom.APIKey,
        AxiomOrgID: cfg.Axiom.OrgID,
        AxiomDataset: cfg.Axiom.Dataset,
        AxiomFlush: cfg.Axiom.FlushInterval,
    }); err != nil {
        log.Error().Err(err).Msg("logger init failed; continuing with defaults")
    }
    defer logpkg.Close()
    metrics.Init()

    // Document store + run lease
    docs, err := store.NewRedisDocuments(cfg.Redis.URL)
    if err != nil { log.Fatal().Err(err).Msg("failed to init redis document store") }
    defer docs.Close()
    lease := store.NewRunLease(docs.Client(), cfg.Redis.LeaseTTL)

    // Queue
    rq, err := queue.NewRedisQueue(cfg.Redis.URL, cfg.Queue.Stream, cfg.Queue.Group)
    if err != nil { log.Fatal().Err(err).Msg("failed to connect to redis queue") }
    defer rq.Close()

    // File storage
    uploads, err := storage.NewLocal(cfg.Storage.UploadDir)
    if err != nil { log.Fatal().Err(err).Msg("failed to init upload dir") }
    var s3c *storage.S3Client
    var archive api.Archiver
    var s3Ping statuscheck.Pinger
    if cfg.Storage.Bucket != "" {
        s3c, err = storage.NewS3Client(context.Background(), cfg.Storage)
        if err != nil { log.Fatal().Err(err).Msg("failed to init s3 client") }
        archive, s3Ping = s3c, s3c
    }
    sources := storage.NewResolver(s3c, &http.Client{Timeout: 2 * time.Minute}).WithMaxBytes(cfg.Server.MaxUploadBytes)

    // Stages
    engine := tesseract.NewEngine(cfg.OCR.Languages, cfg.OCR.TessData)
    if !engine.Available() {
        log.Warn().Str("reason", engine.Diagnostic()).Msg("recognition engine unavailable; image documents will carry the sentinel text")
    }
    breaker := limiter.NewBreaker(docs.Client(), cfg.Formatter.BreakerBase, cfg.Formatter.BreakerMax)
    formatter := format.FromConfig(cfg.Formatter).WithBreaker(breaker)
    log.Info().Strs("backends", formatter.Backends()).Msg("formatting backends")

    orch := pipeline.New(pipeline.Dependencies{
        Store:      docs,
        Lease:      lease,
        Sources:    sources,
        Extractor:  extract.New(),
        Rasterizer: render.New(),
        Recognizer: engine,
        Formatter:  formatter,
    })

    // Workers (optional, so API and workers can run as separate processes)
    var pool *worker.Pool
    if cfg.Worker.Enabled {
        pool = worker.New(worker.Config{
            Concurrency: cfg.Worker.Concurrency,
            Block:       cfg.Queue.Block,
            RunTimeout:  cfg.Worker.RunTimeout,
        }, rq, orch)
        pool.Start(context.Background())
    }

    checker := statuscheck.New(statuscheck.Options{
        Redis:     docs,
        S3:        s3Ping,
        OCR:       engine,
        Formatter: cfg.Formatter.Primary,
    })
    handler := api.NewHandler(api.Dependencies{
        Store:          docs,
        Queue:          rq,
        Uploads:        uploads,
        Archive:        archive,
        Sources:        sources,
        Detector:       filetype.New(),
        PageCount:      extract.PageCount,
        Ready:          checker,
        MaxUploadBytes: cfg.Server.MaxUploadBytes,
    })
    srv := &http.Server{Addr: ":" + cfg.Server.Port, Handler: api.NewRouter(handler), ReadHeaderTimeout: 10 * time.Second}

    go func() {
        log.Info().Msgf("HTTP server listening on :%s", cfg.Server.Port)
        if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
            log.Fatal().Err(err).Msg("http server error")
        }
    }()

    // Graceful shutdown
    stop := make(chan os.Signal, 1)
    signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
    <-stop
    log.Info().Msg("shutting down")
    ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
    defer cancel()
    if err := srv.Shutdown(ctx); err != nil { log.Error().Err(err).Msg("http shutdown") }
    if pool != nil {
        if err := pool.Stop(ctx); err != nil { log.Error().Err(err).Msg("worker pool did not drain in time") }
    }
    log.Info().Msg("shutdown complete")
}
