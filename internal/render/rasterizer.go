package render

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/rs/zerolog/log"
)

// BaseDPI is the PDF user-space resolution; Scale is applied on top of it.
const (
	BaseDPI = 72.0
	Scale   = 2.0
)

// Doc abstracts a renderable document. *fitz.Document satisfies it.
type Doc interface {
	NumPage() int
	ImageDPI(pageNumber int, dpi float64) (*image.RGBA, error)
	Close() error
}

// Opener abstracts opening a path into a Doc.
type Opener interface {
	Open(path string) (Doc, error)
}

type fitzOpener struct{}

func (fitzOpener) Open(path string) (Doc, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Rasterizer renders every page of a document to a PNG next to the source.
type Rasterizer struct {
	opener Opener
	dpi    float64
}

// New returns a go-fitz rasterizer at the fixed 2x scale.
func New() *Rasterizer {
	return &Rasterizer{opener: fitzOpener{}, dpi: BaseDPI * Scale}
}

// NewWithOpener swaps the document backend.
func NewWithOpener(o Opener) *Rasterizer {
	return &Rasterizer{opener: o, dpi: BaseDPI * Scale}
}

// PagePath is the deterministic output name for a 1-based page number.
func PagePath(source string, page int) string {
	base := filepath.Base(source)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(source), fmt.Sprintf("%s_page_%d.png", stem, page))
}

// Rasterize writes one image per page and returns their paths in page order.
// If any page fails, files already written are removed before returning.
func (r *Rasterizer) Rasterize(path string) ([]string, error) {
	doc, err := r.opener.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open document: %w", err)
	}
	defer doc.Close()

	paths := make([]string, 0, doc.NumPage())
	for i := 0; i < doc.NumPage(); i++ {
		out := PagePath(path, i+1)
		if err := r.renderPage(doc, i, out); err != nil {
			for _, p := range paths {
				_ = os.Remove(p)
			}
			return nil, err
		}
		paths = append(paths, out)
	}

	log.Debug().Str("source", path).Int("pages", len(paths)).Float64("dpi", r.dpi).Msg("rasterized document")
	return paths, nil
}

func (r *Rasterizer) renderPage(doc Doc, idx int, out string) error {
	img, err := doc.ImageDPI(idx, r.dpi)
	if err != nil {
		return fmt.Errorf("failed to render page %d: %w", idx+1, err)
	}
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("create page image: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		_ = os.Remove(out)
		return fmt.Errorf("failed to encode PNG page %d: %w", idx+1, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(out)
		return fmt.Errorf("close page image: %w", err)
	}
	return nil
}
