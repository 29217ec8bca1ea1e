package logger

import (
    "context"
    "encoding/json"
    "sync"
    "sync/atomic"
    "time"

    "github.com/axiomhq/axiom-go/axiom"
    "github.com/axiomhq/axiom-go/axiom/ingest"
)

const (
    sinkBuffer    = 1000
    sinkBatch     = 200
    maxFieldBytes = 2048
)

// axiomSink is an io.Writer that turns zerolog JSON lines into Axiom events
// and ingests them in batches from a background goroutine. Debug events are
// not forwarded, and string fields longer than maxFieldBytes are cut so a
// diagnostic quoting page text does not ship the whole page.
type axiomSink struct {
    client  *axiom.Client
    dataset string
    events  chan axiom.Event
    dropped atomic.Int64

    stop chan struct{}
    done sync.WaitGroup
}

func newAxiomSink(token, orgID, dataset string, flushEvery time.Duration) (*axiomSink, error) {
    if dataset == "" { dataset = "dev_" + serviceName }
    opts := []axiom.Option{axiom.SetToken(token)}
    if orgID != "" { opts = append(opts, axiom.SetOrganizationID(orgID)) }
    c, err := axiom.NewClient(opts...)
    if err != nil { return nil, err }
    if flushEvery <= 0 { flushEvery = 10 * time.Second }

    s := &axiomSink{
        client:  c,
        dataset: dataset,
        events:  make(chan axiom.Event, sinkBuffer),
        stop:    make(chan struct{}),
    }
    s.done.Add(1)
    go s.run(flushEvery)
    return s, nil
}

func (s *axiomSink) Write(p []byte) (int, error) {
    ev, ok := toEvent(p)
    if !ok { return len(p), nil }
    select {
    case s.events <- ev:
    default:
        s.dropped.Add(1)
    }
    return len(p), nil
}

// toEvent decodes one log line. ok is false for lines that are not forwarded.
func toEvent(p []byte) (axiom.Event, bool) {
    var ev map[string]any
    if err := json.Unmarshal(p, &ev); err != nil {
        ev = map[string]any{"message": string(p), "level": "info"}
    }
    if lvl, _ := ev["level"].(string); lvl == "debug" || lvl == "trace" {
        return nil, false
    }
    for k, v := range ev {
        if str, ok := v.(string); ok && len(str) > maxFieldBytes {
            ev[k] = str[:maxFieldBytes] + "…(truncated)"
        }
    }
    ev["service"] = serviceName
    if _, ok := ev[ingest.TimestampField]; !ok {
        ev[ingest.TimestampField] = time.Now()
    }
    return axiom.Event(ev), true
}

func (s *axiomSink) run(flushEvery time.Duration) {
    defer s.done.Done()
    ticker := time.NewTicker(flushEvery)
    defer ticker.Stop()

    batch := make([]axiom.Event, 0, sinkBatch)
    flush := func() {
        if len(batch) == 0 { return }
        ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
        _, _ = s.client.IngestEvents(ctx, s.dataset, batch)
        cancel()
        batch = batch[:0]
    }
    for {
        select {
        case <-s.stop:
            for {
                select {
                case ev := <-s.events:
                    batch = append(batch, ev)
                default:
                    flush()
                    return
                }
            }
        case <-ticker.C:
            flush()
        case ev := <-s.events:
            batch = append(batch, ev)
            if len(batch) >= sinkBatch { flush() }
        }
    }
}

// Close drains the buffer, ingests what is left and returns how many events
// were dropped while the buffer was full.
func (s *axiomSink) Close() int64 {
    close(s.stop)
    s.done.Wait()
    return s.dropped.Load()
}
