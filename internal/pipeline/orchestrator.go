// Package pipeline drives one document from Pending to a terminal status:
// extraction, the recognition fallback, formatting and persistence.
package pipeline

import (
    "context"
    "errors"
    "fmt"
    "os"
    "runtime/debug"
    "strings"
    "time"
    "unicode/utf8"

    "github.com/rs/zerolog"

    "github.com/Mozzicato/Lumen/internal/document"
    "github.com/Mozzicato/Lumen/internal/logger"
    "github.com/Mozzicato/Lumen/internal/metrics"
    "github.com/Mozzicato/Lumen/internal/stage"
)

// MinExtractedChars is the trimmed length below which direct extraction is
// considered insufficient and recognition runs instead.
const MinExtractedChars = 50

type Store interface {
    Get(ctx context.Context, id string) (document.Document, bool, error)
    Save(ctx context.Context, d document.Document) error
}

// Lease serializes runs per document id.
type Lease interface {
    Acquire(ctx context.Context, id string) (func(), error)
}

type Extractor interface {
    Extract(path string) (string, error)
}

type Rasterizer interface {
    Rasterize(path string) ([]string, error)
}

type Recognizer interface {
    Recognize(ctx context.Context, imagePaths []string) stage.Result
}

type Formatter interface {
    Format(ctx context.Context, raw string) stage.Result
}

// SourceResolver maps a document source reference to a local file.
type SourceResolver interface {
    Resolve(ctx context.Context, ref string) (string, func(), error)
}

type Dependencies struct {
    Store      Store
    Lease      Lease // optional
    Sources    SourceResolver // optional; SourcePath used as-is when nil
    Extractor  Extractor
    Rasterizer Rasterizer
    Recognizer Recognizer
    Formatter  Formatter
}

type Orchestrator struct {
    deps   Dependencies
    log    zerolog.Logger
    now    func() time.Time
    remove func(string) error
}

func New(deps Dependencies) *Orchestrator {
    return &Orchestrator{
        deps:   deps,
        log:    logger.For("pipeline"),
        now:    func() time.Time { return time.Now().UTC() },
        remove: os.Remove,
    }
}

// Run processes one document. Outcomes are only visible through the stored
// record, logs and metrics.
func (o *Orchestrator) Run(ctx context.Context, documentID string) {
    lg := o.log.With().Str("document_id", documentID).Logger()
    start := time.Now()

    doc, ok, err := o.deps.Store.Get(ctx, documentID)
    if err != nil {
        lg.Error().Err(err).Msg("load document failed")
        metrics.IncRun("skipped")
        return
    }
    if !ok {
        lg.Warn().Msg("document not found; nothing to do")
        metrics.IncRun("skipped")
        return
    }

    if o.deps.Lease != nil {
        release, err := o.deps.Lease.Acquire(ctx, documentID)
        if err != nil {
            lg.Warn().Err(err).Msg("run lease not acquired; skipping")
            metrics.IncRun("skipped")
            return
        }
        defer release()
        // re-read under the lease so a run that finished meanwhile is seen
        if doc, ok, err = o.deps.Store.Get(ctx, documentID); err != nil || !ok {
            lg.Warn().Err(err).Bool("found", ok).Msg("document vanished under lease")
            metrics.IncRun("skipped")
            return
        }
    }

    next, err := document.Transition(doc.Status, document.EventClaim)
    if err != nil {
        lg.Warn().Err(err).Str("status", string(doc.Status)).Msg("document not pending; skipping")
        metrics.IncRun("skipped")
        return
    }
    doc.Status = next
    doc.UpdatedAt = o.now()

    if err := o.processRecovered(ctx, &doc, lg); err != nil {
        o.fail(ctx, doc, err, lg)
        metrics.IncRun("failed")
        return
    }
    metrics.IncRun("completed")
    lg.Info().Dur("took", time.Since(start)).Str("method", doc.ExtractionMethod).Msg("document completed")
}

// processRecovered turns a panic in any stage into an error so a claimed
// document still ends Failed instead of staying in Processing.
func (o *Orchestrator) processRecovered(ctx context.Context, doc *document.Document, lg zerolog.Logger) (err error) {
    defer func() {
        if r := recover(); r != nil {
            lg.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("stage panicked")
            err = fmt.Errorf("panic: %v", r)
        }
    }()
    return o.process(ctx, doc, lg)
}

// process runs the claimed document to Completed. doc keeps every field that
// was persisted so a failure record preserves raw text.
func (o *Orchestrator) process(ctx context.Context, doc *document.Document, lg zerolog.Logger) error {
    if err := o.save(ctx, *doc); err != nil { return fmt.Errorf("persist processing status: %w", err) }
    lg.Info().Str("content_type", doc.ContentType).Msg("processing started")

    path, release, err := o.resolve(ctx, doc.SourcePath)
    if err != nil { return fmt.Errorf("resolve source: %w", err) }
    defer release()

    text := ""
    if doc.IsPDF() {
        t0 := time.Now()
        text, err = o.deps.Extractor.Extract(path)
        metrics.ObserveStage("extract", time.Since(t0))
        if err != nil { return fmt.Errorf("extract text: %w", err) }
        lg.Debug().Str("stage", "extract").Int("chars", len(text)).Msg("direct extraction done")
    }

    method := document.MethodDirect
    if NeedsRecognition(text) {
        method = document.MethodOCR
        res, err := o.recognize(ctx, doc, path, lg)
        if err != nil { return err }
        if !res.Succeeded {
            lg.Warn().Str("stage", "ocr").Str("diagnostic", res.Diagnostic).Msg("recognition degraded")
        }
        text = res.Text
    }

    raw := text
    doc.RawText = &raw
    doc.ExtractionMethod = method
    doc.UpdatedAt = o.now()
    if err := o.save(ctx, *doc); err != nil {
        doc.RawText = nil
        doc.ExtractionMethod = ""
        return fmt.Errorf("persist raw text: %w", err)
    }
    metrics.IncExtraction(method)
    lg.Info().Str("stage", "raw").Str("method", method).Int("chars", len(raw)).Msg("raw text stored")

    t0 := time.Now()
    res := o.deps.Formatter.Format(ctx, raw)
    metrics.ObserveStage("format", time.Since(t0))
    if !res.Succeeded {
        lg.Warn().Str("stage", "format").Str("diagnostic", res.Diagnostic).Msg("formatting degraded; keeping raw text")
    }
    formatted := res.Text

    next, err := document.Transition(doc.Status, document.EventSucceed)
    if err != nil { return err }
    done := o.now()
    doc.FormattedText = &formatted
    doc.Status = next
    doc.UpdatedAt = done
    doc.CompletedAt = &done
    if err := o.save(ctx, *doc); err != nil {
        // the failure record must not carry the unsaved completion
        doc.FormattedText = nil
        doc.CompletedAt = nil
        doc.Status = document.StatusProcessing
        return fmt.Errorf("persist completion: %w", err)
    }
    return nil
}

// recognize rasterizes (or uses the image source directly), runs recognition
// and always removes the generated rasters.
func (o *Orchestrator) recognize(ctx context.Context, doc *document.Document, path string, lg zerolog.Logger) (stage.Result, error) {
    images := []string{path}
    if doc.IsPDF() {
        t0 := time.Now()
        var err error
        images, err = o.deps.Rasterizer.Rasterize(path)
        metrics.ObserveStage("rasterize", time.Since(t0))
        if err != nil { return stage.Result{}, fmt.Errorf("rasterize: %w", err) }
        lg.Debug().Str("stage", "rasterize").Int("pages", len(images)).Msg("pages rendered")
    }
    defer func() {
        failed := Cleanup(images, path, o.remove)
        if len(failed) > 0 {
            metrics.AddCleanupFailures(len(failed))
            lg.Warn().Strs("files", failed).Msg("some rasters could not be removed")
        }
    }()

    t0 := time.Now()
    res := o.deps.Recognizer.Recognize(ctx, images)
    metrics.ObserveStage("ocr", time.Since(t0))
    return res, nil
}

func (o *Orchestrator) fail(ctx context.Context, doc document.Document, cause error, lg zerolog.Logger) {
    lg.Error().Err(cause).Msg("document failed")
    next, err := document.Transition(doc.Status, document.EventFail)
    if err != nil {
        lg.Error().Err(err).Msg("cannot mark document failed")
        return
    }
    msg := cause.Error()
    doc.Status = next
    doc.ErrorMessage = &msg
    doc.UpdatedAt = o.now()
    if err := o.save(ctx, doc); err != nil {
        lg.Error().Err(err).Msg("persist failed status")
    }
}

// save ignores cancellation of ctx so a run always records how it ended.
func (o *Orchestrator) save(ctx context.Context, d document.Document) error {
    return o.deps.Store.Save(context.WithoutCancel(ctx), d)
}

func (o *Orchestrator) resolve(ctx context.Context, ref string) (string, func(), error) {
    if o.deps.Sources == nil { return ref, func() {}, nil }
    return o.deps.Sources.Resolve(ctx, ref)
}

// NeedsRecognition applies the fallback threshold to extracted text.
func NeedsRecognition(text string) bool {
    return utf8.RuneCountInString(strings.TrimSpace(text)) < MinExtractedChars
}

// Cleanup removes every path except keep and returns the ones that could not
// be deleted. Files already gone count as removed.
func Cleanup(paths []string, keep string, remove func(string) error) []string {
    var failed []string
    for _, p := range paths {
        if p == keep { continue }
        if err := remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
            failed = append(failed, p)
        }
    }
    return failed
}
