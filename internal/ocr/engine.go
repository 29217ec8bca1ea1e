package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Mozzicato/Lumen/internal/stage"
)

// PageBreak separates per-image output in the joined text.
const PageBreak = "\n\n--- PAGE BREAK ---\n\n"

// SentinelUnavailable replaces recognized text when no backend could be initialized.
const SentinelUnavailable = "OCR ERROR: recognition engine not available. Check server logs."

// Line is one detected text line.
type Line struct {
	Text       string
	Confidence float64
}

// Backend recognizes the text lines of a single image, in reading order.
type Backend interface {
	Name() string
	Recognize(ctx context.Context, imagePath string) ([]Line, error)
}

// Engine runs a Backend over a batch of images. An Engine built without a
// working backend stays usable and reports the unavailable state in its results.
type Engine struct {
	backend Backend
	initErr error
}

// New wraps a backend. A non-nil initErr (or nil backend) marks the engine unavailable.
func New(b Backend, initErr error) *Engine {
	if b == nil && initErr == nil {
		initErr = fmt.Errorf("no recognition backend configured")
	}
	return &Engine{backend: b, initErr: initErr}
}

// Available reports whether a backend is ready.
func (e *Engine) Available() bool { return e.initErr == nil }

// Diagnostic explains why the engine is unavailable, or "".
func (e *Engine) Diagnostic() string {
	if e.initErr == nil {
		return ""
	}
	return e.initErr.Error()
}

// Recognize returns the text of every image joined by PageBreak. An image that
// fails contributes empty text and the batch continues.
func (e *Engine) Recognize(ctx context.Context, imagePaths []string) stage.Result {
	if !e.Available() {
		log.Error().Str("reason", e.Diagnostic()).Msg("recognition engine unavailable")
		return stage.Degraded(SentinelUnavailable, e.Diagnostic())
	}

	pages := make([]string, len(imagePaths))
	var failed []string
	for i, p := range imagePaths {
		if err := ctx.Err(); err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", p, err))
			continue
		}
		lines, err := e.backend.Recognize(ctx, p)
		if err != nil {
			log.Error().Err(err).Str("image", p).Str("backend", e.backend.Name()).Msg("recognition failed for image")
			failed = append(failed, fmt.Sprintf("%s: %v", p, err))
			continue
		}
		var b strings.Builder
		for _, l := range lines {
			b.WriteString(l.Text)
			b.WriteString("\n")
		}
		pages[i] = b.String()
		log.Info().Str("image", p).Int("lines", len(lines)).Int("chars", len(pages[i])).Msg("recognized image")
	}

	text := strings.Join(pages, PageBreak)
	if len(failed) == 0 {
		return stage.OK(text)
	}
	res := stage.Degraded(text, fmt.Sprintf("%d of %d images failed: %s", len(failed), len(imagePaths), strings.Join(failed, "; ")))
	// partial output is still output
	res.Succeeded = len(failed) < len(imagePaths)
	return res
}
