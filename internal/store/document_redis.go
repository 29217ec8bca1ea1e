package store

import (
    "context"
    "errors"
    "fmt"
    "strconv"
    "time"

    redis "github.com/redis/go-redis/v9"

    "github.com/Mozzicato/Lumen/internal/document"
)

var ErrExists = errors.New("document already exists")

// RedisDocuments keeps each document in a hash and an index sorted by upload time.
type RedisDocuments struct {
    client *redis.Client
    keyNS  string
}

func NewRedisDocuments(redisURL string) (*RedisDocuments, error) {
    opt, err := redis.ParseURL(redisURL)
    if err != nil { return nil, fmt.Errorf("parse redis url: %w", err) }
    c := redis.NewClient(opt)
    ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
    defer cancel()
    if err := c.Ping(ctx).Err(); err != nil { return nil, fmt.Errorf("redis ping: %w", err) }
    return NewRedisDocumentsFromClient(c), nil
}

func NewRedisDocumentsFromClient(c *redis.Client) *RedisDocuments {
    return &RedisDocuments{client: c, keyNS: "doc"}
}

func (s *RedisDocuments) key(id string) string { return fmt.Sprintf("%s:%s", s.keyNS, id) }
func (s *RedisDocuments) indexKey() string     { return s.keyNS + "s:by_created" }

// Client returns the underlying Redis client
func (s *RedisDocuments) Client() *redis.Client { return s.client }

func (s *RedisDocuments) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

func (s *RedisDocuments) Close() error { return s.client.Close() }

// Create stores a new document; it fails if the id is taken.
func (s *RedisDocuments) Create(ctx context.Context, d document.Document) error {
    if err := d.Validate(); err != nil { return err }
    k := s.key(d.ID)
    return s.client.Watch(ctx, func(tx *redis.Tx) error {
        n, err := tx.Exists(ctx, k).Result()
        if err != nil { return err }
        if n > 0 { return fmt.Errorf("%w: %s", ErrExists, d.ID) }
        _, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
            p.HSet(ctx, k, toHash(d))
            p.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(d.CreatedAt.UnixNano()), Member: d.ID})
            return nil
        })
        return err
    }, k)
}

// Get loads a document. The bool is false when the id is unknown.
func (s *RedisDocuments) Get(ctx context.Context, id string) (document.Document, bool, error) {
    res, err := s.client.HGetAll(ctx, s.key(id)).Result()
    if err != nil { return document.Document{}, false, err }
    if len(res) == 0 { return document.Document{}, false, nil }
    return fromHash(res), true, nil
}

// Save writes an existing document. Writes to one record are serialized with
// WATCH and each write must be a legal successor of the stored state.
func (s *RedisDocuments) Save(ctx context.Context, d document.Document) error {
    k := s.key(d.ID)
    txf := func(tx *redis.Tx) error {
        res, err := tx.HGetAll(ctx, k).Result()
        if err != nil { return err }
        if len(res) == 0 { return fmt.Errorf("%w: %s", document.ErrNotFound, d.ID) }
        if err := document.CheckUpdate(fromHash(res), d); err != nil { return err }
        _, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
            p.HSet(ctx, k, toHash(d))
            return nil
        })
        return err
    }
    for i := 0; i < 5; i++ {
        err := s.client.Watch(ctx, txf, k)
        if !errors.Is(err, redis.TxFailedErr) { return err }
    }
    return fmt.Errorf("save %s: too much contention", d.ID)
}

// List returns up to limit documents, newest upload first. limit <= 0 means all.
func (s *RedisDocuments) List(ctx context.Context, limit int) ([]document.Document, error) {
    stop := int64(-1)
    if limit > 0 { stop = int64(limit - 1) }
    ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, stop).Result()
    if err != nil { return nil, err }
    pipe := s.client.Pipeline()
    cmds := make([]*redis.MapStringStringCmd, len(ids))
    for i, id := range ids {
        cmds[i] = pipe.HGetAll(ctx, s.key(id))
    }
    if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) { return nil, err }
    out := make([]document.Document, 0, len(ids))
    for _, c := range cmds {
        if m := c.Val(); len(m) > 0 { out = append(out, fromHash(m)) }
    }
    return out, nil
}

func toHash(d document.Document) map[string]interface{} {
    m := map[string]interface{}{
        "id":           d.ID,
        "filename":     d.Filename,
        "file_path":    d.SourcePath,
        "content_type": d.ContentType,
        "status":       string(d.Status),
        "page_count":   d.PageCount,
        "created_at":   d.CreatedAt.Format(time.RFC3339Nano),
        "updated_at":   d.UpdatedAt.Format(time.RFC3339Nano),
    }
    if d.ExtractionMethod != "" { m["extraction_method"] = d.ExtractionMethod }
    if d.RawText != nil { m["raw_text"] = *d.RawText }
    if d.FormattedText != nil { m["formatted_text"] = *d.FormattedText }
    if d.ErrorMessage != nil { m["error_message"] = *d.ErrorMessage }
    if d.CompletedAt != nil { m["completed_at"] = d.CompletedAt.Format(time.RFC3339Nano) }
    return m
}

func fromHash(res map[string]string) document.Document {
    d := document.Document{
        ID:               res["id"],
        Filename:         res["filename"],
        SourcePath:       res["file_path"],
        ContentType:      res["content_type"],
        Status:           document.Status(res["status"]),
        ExtractionMethod: res["extraction_method"],
    }
    if v, ok := res["raw_text"]; ok { d.RawText = document.Ptr(v) }
    if v, ok := res["formatted_text"]; ok { d.FormattedText = document.Ptr(v) }
    if v, ok := res["error_message"]; ok { d.ErrorMessage = document.Ptr(v) }
    if v := res["page_count"]; v != "" {
        // ignore parse error; default 0
        d.PageCount, _ = strconv.Atoi(v)
    }
    if t, err := time.Parse(time.RFC3339Nano, res["created_at"]); err == nil { d.CreatedAt = t }
    if t, err := time.Parse(time.RFC3339Nano, res["updated_at"]); err == nil { d.UpdatedAt = t }
    if v := res["completed_at"]; v != "" {
        if t, err := time.Parse(time.RFC3339Nano, v); err == nil { d.CompletedAt = &t }
    }
    return d
}
