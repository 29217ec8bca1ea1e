package logger

import (
    "fmt"
    "io"
    "os"
    "path/filepath"
    "sync"
    "time"

    "github.com/rs/zerolog"
    "github.com/rs/zerolog/log"
    lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

const serviceName = "lumen"

// Options defines logger initialization parameters.
type Options struct {
    Level        string
    Pretty       bool
    File         string
    MaxSizeMB    int
    MaxBackups   int
    MaxAgeDays   int
    Compress     bool

    // Axiom
    SendToAxiom  bool
    AxiomAPIKey  string
    AxiomOrgID   string
    AxiomDataset string
    AxiomFlush   time.Duration

    // Out overrides stdout (tests).
    Out io.Writer
}

var (
    mu     sync.Mutex
    global = zerolog.Nop()
    sink   *axiomSink
)

// Init sets up the global logger: stdout or console, optional rotated file,
// optional Axiom forwarding.
func Init(opts Options) error {
    if opts.File != "" {
        if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
            return fmt.Errorf("create logs dir: %w", err)
        }
    }

    stdout := opts.Out
    if stdout == nil { stdout = os.Stdout }

    var writers []io.Writer
    if opts.File != "" {
        writers = append(writers, &lumberjack.Logger{
            Filename:   opts.File,
            MaxSize:    opts.MaxSizeMB,
            MaxBackups: opts.MaxBackups,
            MaxAge:     opts.MaxAgeDays,
            Compress:   opts.Compress,
        })
    }
    if opts.Pretty {
        writers = append(writers, zerolog.ConsoleWriter{Out: stdout, TimeFormat: time.RFC3339})
    } else {
        writers = append(writers, stdout)
    }

    if opts.SendToAxiom && opts.AxiomAPIKey != "" {
        s, err := newAxiomSink(opts.AxiomAPIKey, opts.AxiomOrgID, opts.AxiomDataset, opts.AxiomFlush)
        if err != nil {
            fmt.Fprintf(os.Stderr, "axiom forwarding disabled: %v\n", err)
        } else {
            sink = s
            writers = append(writers, s)
        }
    }

    zerolog.TimeFieldFormat = time.RFC3339
    lvl, err := zerolog.ParseLevel(opts.Level)
    if err != nil || opts.Level == "" {
        lvl = zerolog.InfoLevel
    }

    mu.Lock()
    global = zerolog.New(io.MultiWriter(writers...)).Level(lvl).With().Timestamp().Str("service", serviceName).Logger()
    log.Logger = global
    mu.Unlock()
    return nil
}

// Close flushes events still buffered for Axiom.
func Close() {
    if sink == nil { return }
    if n := sink.Close(); n > 0 {
        fmt.Fprintf(os.Stderr, "axiom: %d log events dropped (buffer full)\n", n)
    }
    sink = nil
}

// Get returns the global logger.
func Get() *zerolog.Logger {
    mu.Lock()
    defer mu.Unlock()
    l := global
    return &l
}

// For returns a child of the global logger tagged with a component name.
func For(component string) zerolog.Logger {
    return log.Logger.With().Str("component", component).Logger()
}
