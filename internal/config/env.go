package config

import (
    "os"
    "strconv"
    "strings"
    "time"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
    Level        string
    Pretty       bool
    File         string
    MaxSizeMB    int
    MaxBackups   int
    MaxAgeDays   int
    Compress     bool
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
    Send          bool
    APIKey        string
    OrgID         string
    Dataset       string
    FlushInterval time.Duration
}

// ServerConfig holds the HTTP surface settings.
type ServerConfig struct {
    Port           string
    MaxUploadBytes int64
    ShutdownGrace  time.Duration
}

// StorageConfig describes where uploads live. Bucket is optional; when set,
// uploads are archived to S3 and s3:// sources can be fetched.
type StorageConfig struct {
    UploadDir   string
    Bucket      string
    Region      string
    Endpoint    string
    AccessKeyID string
    SecretKey   string
}

// RedisConfig holds the document store connection.
type RedisConfig struct {
    URL      string
    LeaseTTL time.Duration
}

// QueueConfig defines the stream carrying document ids to workers.
type QueueConfig struct {
    Stream string
    Group  string
    Block  time.Duration
}

// WorkerConfig defines worker behavior and limits.
type WorkerConfig struct {
    Enabled     bool
    Concurrency int
    RunTimeout  time.Duration
}

// OCRConfig configures the recognition backend.
type OCRConfig struct {
    Languages []string
    TessData  string
}

// BackendConfig is one chat-completion backend for the formatter.
type BackendConfig struct {
    Provider string // "openai"|"openrouter"|"groq" (OpenAI-compatible) or "anthropic"; empty disables
    BaseURL  string
    APIKey   string
    Model    string
}

// FormatterConfig defines the formatting backends and generation params.
type FormatterConfig struct {
    Primary     BackendConfig
    Secondary   BackendConfig
    Temperature float64
    MaxTokens   int
    Timeout     time.Duration
    Referer     string
    BreakerBase time.Duration
    BreakerMax  time.Duration
}

// Config is the top-level configuration.
type Config struct {
    Logging   LoggingConfig
    Axiom     AxiomConfig
    Server    ServerConfig
    Storage   StorageConfig
    Redis     RedisConfig
    Queue     QueueConfig
    Worker    WorkerConfig
    OCR       OCRConfig
    Formatter FormatterConfig
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
    cfg := Config{}

    cfg.Logging = LoggingConfig{
        Level:      getEnv("LOG_LEVEL", "info"),
        Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
        File:       getEnv("LOG_FILE", "logs/lumen.log"),
        MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
        MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
        MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
        Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
    }

    baseDataset := getEnv("AXIOM_DATASET", "dev")
    cfg.Axiom = AxiomConfig{
        Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
        APIKey:        getEnv("AXIOM_API_KEY", ""),
        OrgID:         getEnv("AXIOM_ORG_ID", ""),
        Dataset:       baseDataset + "_lumen",
        FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
    }

    cfg.Server = ServerConfig{
        Port:           getEnv("PORT", "8000"),
        MaxUploadBytes: int64(parseInt(getEnv("MAX_UPLOAD_MB", "50"), 50)) << 20,
        ShutdownGrace:  parseDuration(getEnv("SHUTDOWN_GRACE", "30s"), 30*time.Second),
    }

    cfg.Storage = StorageConfig{
        UploadDir:   getEnv("UPLOAD_DIR", "uploads"),
        Bucket:      getEnv("AWS_S3_BUCKET", ""),
        Region:      getEnv("AWS_REGION", ""),
        Endpoint:    getEnv("AWS_S3_ENDPOINT", ""),
        AccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
        SecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
    }

    cfg.Redis = RedisConfig{
        URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
        LeaseTTL: parseDuration(getEnv("LEASE_TTL", "15m"), 15*time.Minute),
    }

    cfg.Queue = QueueConfig{
        Stream: getEnv("QUEUE_STREAM", "lumen:documents"),
        Group:  getEnv("QUEUE_GROUP", "lumen:workers"),
        Block:  parseDuration(getEnv("QUEUE_BLOCK", "2s"), 2*time.Second),
    }

    cfg.Worker = WorkerConfig{
        Enabled:     parseBool(getEnv("RUN_WORKERS", "true")),
        Concurrency: parseInt(getEnv("WORKER_CONCURRENCY", "2"), 2),
        RunTimeout:  parseDuration(getEnv("RUN_TIMEOUT", "10m"), 10*time.Minute),
    }

    cfg.OCR = OCRConfig{
        Languages: parseList(getEnv("OCR_LANGUAGES", "eng")),
        TessData:  getEnv("TESSDATA_PREFIX", ""),
    }

    cfg.Formatter = FormatterConfig{
        Primary: BackendConfig{
            Provider: strings.ToLower(getEnv("LLM_PROVIDER", "openai")),
            BaseURL:  getEnv("LLM_BASE_URL", "https://openrouter.ai/api/v1"),
            APIKey:   firstEnv("LLM_API_KEY", "OPENROUTER_API_KEY", "GROQ_API_KEY", "OPENAI_API_KEY"),
            Model:    getEnv("LLM_MODEL", "meta-llama/llama-3.1-8b-instruct"),
        },
        Secondary: BackendConfig{
            Provider: strings.ToLower(getEnv("LLM_SECONDARY_PROVIDER", "")),
            BaseURL:  getEnv("LLM_SECONDARY_BASE_URL", ""),
            APIKey:   firstEnv("LLM_SECONDARY_API_KEY", "ANTHROPIC_API_KEY"),
            Model:    getEnv("LLM_SECONDARY_MODEL", "claude-3-haiku-20240307"),
        },
        Temperature: parseFloat(getEnv("LLM_TEMPERATURE", "0.2"), 0.2),
        MaxTokens:   parseInt(getEnv("LLM_MAX_TOKENS", "4096"), 4096),
        Timeout:     parseDuration(getEnv("FORMAT_TIMEOUT", "90s"), 90*time.Second),
        Referer:     getEnv("LLM_REFERER", "https://github.com/Mozzicato/Lumen"),
        BreakerBase: parseDuration(getEnv("LLM_BREAKER_BASE", "30s"), 30*time.Second),
        BreakerMax:  parseDuration(getEnv("LLM_BREAKER_MAX", "5m"), 5*time.Minute),
    }
    if cfg.Worker.Concurrency <= 0 { cfg.Worker.Concurrency = 1 }
    if len(cfg.OCR.Languages) == 0 { cfg.OCR.Languages = []string{"eng"} }

    return cfg
}

// Helpers
func getEnv(key, def string) string {
    if v := os.Getenv(key); v != "" {
        return v
    }
    return def
}

func firstEnv(keys ...string) string {
    for _, k := range keys {
        if v := os.Getenv(k); v != "" { return v }
    }
    return ""
}

func parseInt(s string, def int) int {
    if s == "" { return def }
    if n, err := strconv.Atoi(s); err == nil { return n }
    return def
}

func parseFloat(s string, def float64) float64 {
    if s == "" { return def }
    if f, err := strconv.ParseFloat(s, 64); err == nil { return f }
    return def
}

func parseBool(s string) bool {
    v := strings.ToLower(strings.TrimSpace(s))
    return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
    if s == "" { return def }
    if d, err := time.ParseDuration(s); err == nil { return d }
    return def
}

func parseList(s string) []string {
    var out []string
    for _, p := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '+' }) {
        if p = strings.TrimSpace(p); p != "" { out = append(out, p) }
    }
    return out
}

func devDefaultPretty() string {
    env := strings.ToLower(os.Getenv("ENVIRONMENT"))
    if env == "dev" || env == "development" || env == "local" { return "true" }
    return "false"
}
