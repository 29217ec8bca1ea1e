package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mozzicato/Lumen/internal/document"
	"github.com/Mozzicato/Lumen/internal/ocr"
	"github.com/Mozzicato/Lumen/internal/stage"
)

// memStore enforces the same update rules as the Redis store.
type memStore struct {
	mu      sync.Mutex
	docs    map[string]document.Document
	saves   []document.Document
	getErr  error
	saveErr func(document.Document) error
}

func newMemStore(docs ...document.Document) *memStore {
	s := &memStore{docs: map[string]document.Document{}}
	for _, d := range docs {
		s.docs[d.ID] = d
	}
	return s
}

func (s *memStore) Get(_ context.Context, id string) (document.Document, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return document.Document{}, false, s.getErr
	}
	d, ok := s.docs[id]
	return d, ok, nil
}

func (s *memStore) Save(_ context.Context, d document.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		if err := s.saveErr(d); err != nil {
			return err
		}
	}
	prev, ok := s.docs[d.ID]
	if !ok {
		return document.ErrNotFound
	}
	if err := document.CheckUpdate(prev, d); err != nil {
		return err
	}
	s.docs[d.ID] = d
	s.saves = append(s.saves, d)
	return nil
}

func (s *memStore) get(t *testing.T, id string) document.Document {
	t.Helper()
	d, ok, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)
	return d
}

func (s *memStore) statuses() []document.Status {
	var out []document.Status
	for _, d := range s.saves {
		out = append(out, d.Status)
	}
	return out
}

type fakeExtractor struct {
	text  string
	err   error
	panic any
	calls int
}

func (f *fakeExtractor) Extract(string) (string, error) {
	f.calls++
	if f.panic != nil {
		panic(f.panic)
	}
	return f.text, f.err
}

// fakeRasterizer writes real files next to the source so cleanup can be observed.
type fakeRasterizer struct {
	pages int
	err   error
	calls int
	out   []string
}

func (f *fakeRasterizer) Rasterize(path string) ([]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	for i := 1; i <= f.pages; i++ {
		p := filepath.Join(filepath.Dir(path), fmt.Sprintf("%s_page_%d.png", stem, i))
		if err := os.WriteFile(p, []byte("png"), 0o644); err != nil {
			return nil, err
		}
		f.out = append(f.out, p)
	}
	return f.out, nil
}

type fakeRecognizer struct {
	result  stage.Result
	calls   int
	got     []string
	existed []bool
	panic   any
}

func (f *fakeRecognizer) Recognize(_ context.Context, paths []string) stage.Result {
	f.calls++
	f.got = paths
	for _, p := range paths {
		_, err := os.Stat(p)
		f.existed = append(f.existed, err == nil)
	}
	if f.panic != nil {
		panic(f.panic)
	}
	return f.result
}

type fakeFormatter struct {
	fn    func(string) stage.Result
	calls int
	got   string
}

func (f *fakeFormatter) Format(_ context.Context, raw string) stage.Result {
	f.calls++
	f.got = raw
	if f.fn == nil {
		return stage.OK("# Notes\n\n" + raw)
	}
	return f.fn(raw)
}

type fakeLease struct {
	err      error
	released int
}

func (l *fakeLease) Acquire(context.Context, string) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	return func() { l.released++ }, nil
}

type fakeResolver struct {
	err      error
	released int
}

func (r *fakeResolver) Resolve(_ context.Context, ref string) (string, func(), error) {
	if r.err != nil {
		return "", func() {}, r.err
	}
	return ref, func() { r.released++ }, nil
}

type harness struct {
	store *memStore
	ext   *fakeExtractor
	ras   *fakeRasterizer
	rec   *fakeRecognizer
	fmt   *fakeFormatter
	orch  *Orchestrator
}

func newHarness(t *testing.T, doc document.Document) *harness {
	t.Helper()
	h := &harness{
		store: newMemStore(doc),
		ext:   &fakeExtractor{},
		ras:   &fakeRasterizer{pages: 2},
		rec:   &fakeRecognizer{result: stage.OK("recognized text\n")},
		fmt:   &fakeFormatter{},
	}
	h.orch = New(Dependencies{
		Store:      h.store,
		Extractor:  h.ext,
		Rasterizer: h.ras,
		Recognizer: h.rec,
		Formatter:  h.fmt,
	})
	return h
}

func pdfDoc(t *testing.T) document.Document {
	t.Helper()
	src := filepath.Join(t.TempDir(), "notes.pdf")
	require.NoError(t, os.WriteFile(src, []byte("%PDF-1.4"), 0o644))
	return document.New("doc-1", "notes.pdf", src, document.ContentTypePDF, time.Now().UTC())
}

func imageDoc(t *testing.T) document.Document {
	t.Helper()
	src := filepath.Join(t.TempDir(), "page.png")
	require.NoError(t, os.WriteFile(src, []byte("png"), 0o644))
	return document.New("img-1", "page.png", src, "image/png", time.Now().UTC())
}

func TestRunDirectExtraction(t *testing.T) {
	h := newHarness(t, pdfDoc(t))
	text := strings.Repeat("F = ma ", 10)
	h.ext.text = text

	h.orch.Run(context.Background(), "doc-1")

	d := h.store.get(t, "doc-1")
	assert.Equal(t, document.StatusCompleted, d.Status)
	require.NotNil(t, d.RawText)
	assert.Equal(t, text, *d.RawText)
	require.NotNil(t, d.FormattedText)
	assert.NotEqual(t, *d.RawText, *d.FormattedText)
	assert.Equal(t, document.MethodDirect, d.ExtractionMethod)
	assert.NotNil(t, d.CompletedAt)
	assert.Nil(t, d.ErrorMessage)
	assert.Zero(t, h.ras.calls)
	assert.Zero(t, h.rec.calls)
	assert.Equal(t, []document.Status{document.StatusProcessing, document.StatusProcessing, document.StatusCompleted}, h.store.statuses())
	assert.Nil(t, h.store.saves[0].RawText, "processing is persisted before any stage runs")
}

func TestFallbackThreshold(t *testing.T) {
	cases := []struct {
		name string
		text string
		ocr  bool
	}{
		{"empty", "", true},
		{"whitespace", "  \n\t ", true},
		{"49 chars", strings.Repeat("a", 49), true},
		{"49 chars padded", "   " + strings.Repeat("a", 49) + "\n\n", true},
		{"49 multibyte runes", strings.Repeat("é", 49), true},
		{"50 chars", strings.Repeat("a", 50), false},
		{"50 chars padded", "\n" + strings.Repeat("a", 50) + "  ", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.ocr, NeedsRecognition(tc.text))

			h := newHarness(t, pdfDoc(t))
			h.ext.text = tc.text
			h.orch.Run(context.Background(), "doc-1")

			d := h.store.get(t, "doc-1")
			assert.Equal(t, document.StatusCompleted, d.Status)
			if tc.ocr {
				assert.Equal(t, 1, h.rec.calls)
				assert.Equal(t, document.MethodOCR, d.ExtractionMethod)
				assert.Equal(t, "recognized text\n", *d.RawText)
			} else {
				assert.Zero(t, h.rec.calls)
				assert.Equal(t, tc.text, *d.RawText)
			}
		})
	}
}

func TestRunImageOnlyPDF(t *testing.T) {
	h := newHarness(t, pdfDoc(t))
	h.rec.result = stage.OK("page one\n" + ocr.PageBreak + "page two\n")

	h.orch.Run(context.Background(), "doc-1")

	d := h.store.get(t, "doc-1")
	assert.Equal(t, document.StatusCompleted, d.Status)
	assert.Contains(t, *d.RawText, "--- PAGE BREAK ---")
	assert.Equal(t, document.MethodOCR, d.ExtractionMethod)

	require.Len(t, h.rec.got, 2)
	assert.Equal(t, []bool{true, true}, h.rec.existed, "rasters exist while recognizing")
	for _, p := range h.ras.out {
		_, err := os.Stat(p)
		assert.True(t, os.IsNotExist(err), "raster %s left behind", p)
	}
	_, err := os.Stat(d.SourcePath)
	assert.NoError(t, err, "source must survive cleanup")
}

func TestRunFormattingFailureStillCompletes(t *testing.T) {
	h := newHarness(t, pdfDoc(t))
	h.ext.text = strings.Repeat("Newton's second law. ", 5)
	h.fmt.fn = func(raw string) stage.Result { return stage.Degraded(raw, "http 500") }

	h.orch.Run(context.Background(), "doc-1")

	d := h.store.get(t, "doc-1")
	assert.Equal(t, document.StatusCompleted, d.Status)
	assert.Equal(t, *d.RawText, *d.FormattedText)
	assert.Nil(t, d.ErrorMessage)
}

func TestRunMissingDocument(t *testing.T) {
	h := newHarness(t, pdfDoc(t))

	h.orch.Run(context.Background(), "unknown")

	assert.Empty(t, h.store.saves)
	assert.Len(t, h.store.docs, 1)
	_, ok := h.store.docs["unknown"]
	assert.False(t, ok)
	assert.Zero(t, h.ext.calls)
}

func TestRunStoreReadError(t *testing.T) {
	h := newHarness(t, pdfDoc(t))
	h.store.getErr = errors.New("redis down")

	h.orch.Run(context.Background(), "doc-1")

	assert.Empty(t, h.store.saves)
	assert.Zero(t, h.ext.calls)
}

func TestRunRecognitionUnavailable(t *testing.T) {
	h := newHarness(t, pdfDoc(t))
	h.rec.result = stage.Degraded(ocr.SentinelUnavailable, "tesseract: missing language data")

	h.orch.Run(context.Background(), "doc-1")

	d := h.store.get(t, "doc-1")
	assert.Equal(t, document.StatusCompleted, d.Status)
	assert.Equal(t, ocr.SentinelUnavailable, *d.RawText)
	assert.Equal(t, ocr.SentinelUnavailable, h.fmt.got)
}

func TestRunRecognitionPartialFailure(t *testing.T) {
	h := newHarness(t, pdfDoc(t))
	h.ras.pages = 3
	h.rec.result = stage.Result{Text: "one\n" + ocr.PageBreak + ocr.PageBreak + "three\n", Succeeded: true, Diagnostic: "page 2: boom"}

	h.orch.Run(context.Background(), "doc-1")

	d := h.store.get(t, "doc-1")
	assert.Equal(t, document.StatusCompleted, d.Status)
	assert.Equal(t, h.rec.result.Text, *d.RawText)
}

func TestRunImageDocumentUsesSource(t *testing.T) {
	doc := imageDoc(t)
	h := newHarness(t, doc)

	h.orch.Run(context.Background(), doc.ID)

	d := h.store.get(t, doc.ID)
	assert.Equal(t, document.StatusCompleted, d.Status)
	assert.Zero(t, h.ext.calls, "images skip direct extraction")
	assert.Zero(t, h.ras.calls)
	assert.Equal(t, []string{doc.SourcePath}, h.rec.got)
	_, err := os.Stat(doc.SourcePath)
	assert.NoError(t, err, "image source is never deleted")
}

func TestRunExtractionErrorFails(t *testing.T) {
	h := newHarness(t, pdfDoc(t))
	h.ext.err = errors.New("cannot open document")

	h.orch.Run(context.Background(), "doc-1")

	d := h.store.get(t, "doc-1")
	assert.Equal(t, document.StatusFailed, d.Status)
	require.NotNil(t, d.ErrorMessage)
	assert.Contains(t, *d.ErrorMessage, "cannot open document")
	assert.Nil(t, d.RawText)
	assert.Nil(t, d.FormattedText)
	assert.Zero(t, h.ras.calls)
	assert.Zero(t, h.fmt.calls)
}

func TestRunStagePanicFails(t *testing.T) {
	h := newHarness(t, pdfDoc(t))
	h.ext.panic = "fitz: nil page"

	assert.NotPanics(t, func() { h.orch.Run(context.Background(), "doc-1") })

	d := h.store.get(t, "doc-1")
	assert.Equal(t, document.StatusFailed, d.Status)
	require.NotNil(t, d.ErrorMessage)
	assert.Equal(t, "panic: fitz: nil page", *d.ErrorMessage)
	assert.Nil(t, d.RawText)
	assert.Zero(t, h.fmt.calls)
}

func TestRunRecognitionPanicFailsAndCleansUp(t *testing.T) {
	h := newHarness(t, pdfDoc(t))
	h.rec.panic = "tesseract crashed"

	h.orch.Run(context.Background(), "doc-1")

	d := h.store.get(t, "doc-1")
	assert.Equal(t, document.StatusFailed, d.Status)
	require.NotNil(t, d.ErrorMessage)
	assert.Contains(t, *d.ErrorMessage, "tesseract crashed")
	require.Len(t, h.ras.out, 2)
	for _, p := range h.ras.out {
		assert.NoFileExists(t, p)
	}
}

func TestRunRasterizeErrorFails(t *testing.T) {
	h := newHarness(t, pdfDoc(t))
	h.ras.err = errors.New("render page 3")

	h.orch.Run(context.Background(), "doc-1")

	d := h.store.get(t, "doc-1")
	assert.Equal(t, document.StatusFailed, d.Status)
	assert.Contains(t, *d.ErrorMessage, "rasterize")
	assert.Zero(t, h.rec.calls)
}

func TestRunCompletionPersistFailureKeepsRawText(t *testing.T) {
	h := newHarness(t, pdfDoc(t))
	h.ext.text = strings.Repeat("Kinetic energy is half m v squared. ", 3)
	h.store.saveErr = func(d document.Document) error {
		if d.Status == document.StatusCompleted {
			return errors.New("write timeout")
		}
		return nil
	}

	h.orch.Run(context.Background(), "doc-1")

	d := h.store.get(t, "doc-1")
	assert.Equal(t, document.StatusFailed, d.Status)
	require.NotNil(t, d.RawText)
	assert.Equal(t, h.ext.text, *d.RawText)
	assert.Nil(t, d.FormattedText)
	assert.Contains(t, *d.ErrorMessage, "write timeout")
}

func TestRunRawPersistFailure(t *testing.T) {
	h := newHarness(t, pdfDoc(t))
	h.ext.text = strings.Repeat("x", 80)
	h.store.saveErr = func(d document.Document) error {
		if d.Status == document.StatusProcessing && d.RawText != nil {
			return errors.New("disk full")
		}
		return nil
	}

	h.orch.Run(context.Background(), "doc-1")

	d := h.store.get(t, "doc-1")
	assert.Equal(t, document.StatusFailed, d.Status)
	assert.Contains(t, *d.ErrorMessage, "persist raw text")
	assert.Nil(t, d.RawText)
	assert.Zero(t, h.fmt.calls)
}

func TestRunNonPendingUntouched(t *testing.T) {
	for _, st := range []document.Status{document.StatusProcessing, document.StatusCompleted, document.StatusFailed} {
		t.Run(string(st), func(t *testing.T) {
			doc := pdfDoc(t)
			doc.Status = st
			switch st {
			case document.StatusCompleted:
				doc.RawText = document.Ptr("raw")
				doc.FormattedText = document.Ptr("fmt")
			case document.StatusFailed:
				doc.ErrorMessage = document.Ptr("earlier failure")
			}
			h := newHarness(t, doc)

			h.orch.Run(context.Background(), doc.ID)

			assert.Empty(t, h.store.saves)
			assert.Equal(t, doc, h.store.get(t, doc.ID))
			assert.Zero(t, h.ext.calls)
		})
	}
}

func TestRunLeaseHeld(t *testing.T) {
	h := newHarness(t, pdfDoc(t))
	lease := &fakeLease{err: errors.New("held")}
	h.orch.deps.Lease = lease

	h.orch.Run(context.Background(), "doc-1")

	assert.Empty(t, h.store.saves)
	assert.Equal(t, document.StatusPending, h.store.get(t, "doc-1").Status)
}

func TestRunReleasesLeaseAndSource(t *testing.T) {
	h := newHarness(t, pdfDoc(t))
	lease := &fakeLease{}
	res := &fakeResolver{}
	h.orch.deps.Lease = lease
	h.orch.deps.Sources = res

	h.orch.Run(context.Background(), "doc-1")

	assert.Equal(t, document.StatusCompleted, h.store.get(t, "doc-1").Status)
	assert.Equal(t, 1, lease.released)
	assert.Equal(t, 1, res.released)
}

func TestRunResolveErrorFails(t *testing.T) {
	h := newHarness(t, pdfDoc(t))
	h.orch.deps.Sources = &fakeResolver{err: errors.New("s3: access denied")}

	h.orch.Run(context.Background(), "doc-1")

	d := h.store.get(t, "doc-1")
	assert.Equal(t, document.StatusFailed, d.Status)
	assert.Contains(t, *d.ErrorMessage, "access denied")
}

func TestRunCleanupFailureDoesNotFailRun(t *testing.T) {
	h := newHarness(t, pdfDoc(t))
	h.orch.remove = func(string) error { return errors.New("permission denied") }

	h.orch.Run(context.Background(), "doc-1")

	assert.Equal(t, document.StatusCompleted, h.store.get(t, "doc-1").Status)
}

func TestRunCancelledContextStillRecordsOutcome(t *testing.T) {
	h := newHarness(t, pdfDoc(t))
	h.ext.err = errors.New("broken xref")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h.orch.Run(ctx, "doc-1")

	assert.Equal(t, document.StatusFailed, h.store.get(t, "doc-1").Status)
}

func TestCleanup(t *testing.T) {
	dir := t.TempDir()
	keep := filepath.Join(dir, "src.png")
	a := filepath.Join(dir, "a.png")
	gone := filepath.Join(dir, "gone.png")
	for _, p := range []string{keep, a} {
		require.NoError(t, os.WriteFile(p, nil, 0o644))
	}

	failed := Cleanup([]string{keep, a, gone}, keep, os.Remove)
	assert.Empty(t, failed)
	_, err := os.Stat(keep)
	assert.NoError(t, err)
	_, err = os.Stat(a)
	assert.True(t, os.IsNotExist(err))

	failed = Cleanup([]string{"x", "y", keep}, keep, func(p string) error {
		if p == "y" {
			return errors.New("busy")
		}
		return nil
	})
	assert.Equal(t, []string{"y"}, failed)
}
