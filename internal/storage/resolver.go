package storage

import (
    "context"
    "errors"
    "fmt"
    "io"
    "net/http"
    "os"
    "path/filepath"
    "strings"

    "github.com/rs/zerolog/log"
)

// ErrSourceTooLarge is returned when a remote source exceeds the size limit.
var ErrSourceTooLarge = errors.New("source exceeds size limit")

// Resolver turns a document source reference into a local file path.
type Resolver struct {
    s3       *S3Client
    http     *http.Client
    maxBytes int64 // 0 means unlimited
}

// NewResolver returns a resolver; s3 may be nil when no bucket is configured.
func NewResolver(s3 *S3Client, hc *http.Client) *Resolver {
    if hc == nil { hc = http.DefaultClient }
    return &Resolver{s3: s3, http: hc}
}

// WithMaxBytes caps the size of downloaded sources.
func (r *Resolver) WithMaxBytes(n int64) *Resolver {
    r.maxBytes = n
    return r
}

func (r *Resolver) tooLarge(n int64) bool { return r.maxBytes > 0 && n > r.maxBytes }

// Resolve returns a local path for ref and a cleanup func removing any temp
// download. Supports file://, plain paths, http(s):// and s3://.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, func(), error) {
    noop := func() {}
    if i := strings.Index(ref, "#"); i >= 0 { ref = ref[:i] }
    switch {
    case strings.HasPrefix(ref, "file://"):
        return strings.TrimPrefix(ref, "file://"), noop, nil
    case strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://"):
        p, err := r.downloadHTTP(ctx, ref)
        if err != nil { return "", noop, err }
        return p, removeFunc(p), nil
    case strings.HasPrefix(ref, "s3://"):
        p, err := r.downloadS3(ctx, ref)
        if err != nil { return "", noop, err }
        return p, removeFunc(p), nil
    default:
        return ref, noop, nil
    }
}

func removeFunc(p string) func() {
    return func() {
        if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
            log.Warn().Err(err).Str("file", p).Msg("failed to remove temp download")
        }
    }
}

// tempFor keeps the source extension so downstream stages can rely on it.
func tempFor(ref string) (*os.File, error) {
    ext := filepath.Ext(strings.SplitN(ref, "?", 2)[0])
    return os.CreateTemp("", "lumen-src-*"+ext)
}

func (r *Resolver) downloadHTTP(ctx context.Context, url string) (string, error) {
    req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
    if err != nil { return "", err }
    resp, err := r.http.Do(req)
    if err != nil { return "", err }
    defer resp.Body.Close()
    if resp.StatusCode != http.StatusOK { return "", fmt.Errorf("fetch source: http %d", resp.StatusCode) }
    if r.tooLarge(resp.ContentLength) { return "", fmt.Errorf("%w: %d bytes", ErrSourceTooLarge, resp.ContentLength) }
    f, err := tempFor(url)
    if err != nil { return "", err }
    body := io.Reader(resp.Body)
    if r.maxBytes > 0 {
        // one extra byte tells an exact-limit body from an oversized one
        body = io.LimitReader(resp.Body, r.maxBytes+1)
    }
    n, err := io.Copy(f, body)
    if err == nil && r.tooLarge(n) {
        err = fmt.Errorf("%w: more than %d bytes", ErrSourceTooLarge, r.maxBytes)
    }
    if err != nil {
        f.Close()
        os.Remove(f.Name())
        return "", err
    }
    if err := f.Close(); err != nil { os.Remove(f.Name()); return "", err }
    return f.Name(), nil
}

func (r *Resolver) downloadS3(ctx context.Context, ref string) (string, error) {
    if r.s3 == nil { return "", fmt.Errorf("s3 source %s but no bucket configured", ref) }
    bucket, key, err := ParseS3URL(ref)
    if err != nil { return "", err }
    if r.maxBytes > 0 {
        size, err := r.s3.Size(ctx, bucket, key)
        if err != nil { return "", err }
        if r.tooLarge(size) { return "", fmt.Errorf("%w: %d bytes", ErrSourceTooLarge, size) }
    }
    f, err := tempFor(key)
    if err != nil { return "", err }
    if _, err := r.s3.Download(ctx, bucket, key, f); err != nil {
        f.Close()
        os.Remove(f.Name())
        return "", err
    }
    if err := f.Close(); err != nil { os.Remove(f.Name()); return "", err }
    log.Info().Str("bucket", bucket).Str("key", key).Str("file", filepath.Base(f.Name())).Msg("downloaded s3 source to temp")
    return f.Name(), nil
}
