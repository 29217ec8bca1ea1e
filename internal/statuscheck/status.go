package statuscheck

import (
    "context"
    "errors"
    "fmt"
    "net/http"
    "strings"
    "time"

    "github.com/Mozzicato/Lumen/internal/config"
)

// Pinger models the minimal capability we need from Redis and S3.
type Pinger interface {
    Ping(ctx context.Context) error
}

// OCR reports whether the recognition backend loaded.
type OCR interface {
    Available() bool
    Diagnostic() string
}

// Checker aggregates health checks for external dependencies.
type Checker struct {
    redis      Pinger
    s3         Pinger
    ocr        OCR
    formatter  config.BackendConfig
    httpClient *http.Client
}

// Options configures the Checker. S3 is nil when no bucket is configured.
type Options struct {
    Redis      Pinger
    S3         Pinger
    OCR        OCR
    Formatter  config.BackendConfig
    HTTPClient *http.Client
}

// Status represents the readiness of a subsystem.
type Status struct {
    OK      bool   `json:"ok"`
    Message string `json:"message"`
}

// Summary bundles all subsystem statuses.
type Summary struct {
    Ready     bool   `json:"ready"`
    Redis     Status `json:"redis"`
    S3        Status `json:"s3"`
    OCR       Status `json:"ocr"`
    Formatter Status `json:"formatter"`
}

// New creates a new Checker with the provided options.
func New(opts Options) *Checker {
    client := opts.HTTPClient
    if client == nil {
        client = &http.Client{Timeout: 5 * time.Second}
    }
    f := opts.Formatter
    f.APIKey = strings.TrimSpace(f.APIKey)
    return &Checker{
        redis:      opts.Redis,
        s3:         opts.S3,
        ocr:        opts.OCR,
        formatter:  f,
        httpClient: client,
    }
}

// Summary returns the current status snapshot. Only Redis gates readiness:
// OCR and formatting degrade instead of failing runs, and S3 is optional.
func (c *Checker) Summary(ctx context.Context) Summary {
    s := Summary{
        Redis:     c.checkRedis(ctx),
        S3:        c.checkS3(ctx),
        OCR:       c.checkOCR(),
        Formatter: c.checkFormatter(ctx),
    }
    s.Ready = s.Redis.OK
    return s
}

func (c *Checker) checkRedis(ctx context.Context) Status {
    if c.redis == nil {
        return Status{OK: false, Message: "client unavailable"}
    }
    ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
    defer cancel()
    if err := c.redis.Ping(ctx); err != nil {
        return Status{OK: false, Message: trimError(err)}
    }
    return Status{OK: true, Message: "Connected"}
}

func (c *Checker) checkS3(ctx context.Context) Status {
    if c.s3 == nil {
        return Status{OK: false, Message: "Bucket not configured"}
    }
    ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
    defer cancel()
    if err := c.s3.Ping(ctx); err != nil {
        return Status{OK: false, Message: trimError(err)}
    }
    return Status{OK: true, Message: "Connected"}
}

func (c *Checker) checkOCR() Status {
    if c.ocr == nil {
        return Status{OK: false, Message: "engine not configured"}
    }
    if !c.ocr.Available() {
        return Status{OK: false, Message: c.ocr.Diagnostic()}
    }
    return Status{OK: true, Message: "Available"}
}

// checkFormatter lists models on the primary backend to verify key and reachability.
func (c *Checker) checkFormatter(ctx context.Context) Status {
    f := c.formatter
    if f.Provider == "" || f.BaseURL == "" {
        return Status{OK: false, Message: "backend not configured"}
    }
    if f.APIKey == "" {
        return Status{OK: false, Message: "API key missing"}
    }
    base := strings.TrimRight(f.BaseURL, "/")
    url := base + "/models"
    if f.Provider == "anthropic" { url = base + "/v1/models" }
    req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
    if err != nil {
        return Status{OK: false, Message: trimError(err)}
    }
    if f.Provider == "anthropic" {
        req.Header.Set("x-api-key", f.APIKey)
        req.Header.Set("anthropic-version", "2023-06-01")
    } else {
        req.Header.Set("Authorization", "Bearer "+f.APIKey)
    }
    resp, err := c.httpClient.Do(req)
    if err != nil {
        return Status{OK: false, Message: trimError(err)}
    }
    defer resp.Body.Close()
    if resp.StatusCode >= 400 {
        return Status{OK: false, Message: fmt.Sprintf("HTTP %d", resp.StatusCode)}
    }
    return Status{OK: true, Message: "Available"}
}

func trimError(err error) string {
    if err == nil {
        return ""
    }
    var netErr interface{ Timeout() bool }
    if errors.As(err, &netErr) && netErr.Timeout() {
        return "timeout"
    }
    msg := err.Error()
    if len(msg) > 120 {
        return msg[:120]
    }
    return msg
}
