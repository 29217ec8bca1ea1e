package extract

import (
	"fmt"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog/log"
)

// PageSeparator joins the text of consecutive non-empty pages.
const PageSeparator = "\n\n"

// Doc abstracts a PDF document for text extraction. *fitz.Document satisfies it.
type Doc interface {
	NumPage() int
	Text(pageNumber int) (string, error)
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

// Extractor pulls embedded text out of PDFs page by page.
type Extractor struct {
	opener Opener
}

// New creates an extractor backed by go-fitz (MuPDF).
func New() *Extractor {
	return &Extractor{opener: fitzOpener{}}
}

// NewWithOpener swaps the document backend, useful for tests or alternate backends.
func NewWithOpener(o Opener) *Extractor {
	return &Extractor{opener: o}
}

// Extract returns the text of every page that has any, separated by a blank
// line. An image-only document yields "" and no error; a document that cannot
// be opened or read yields an error.
func (e *Extractor) Extract(path string) (string, error) {
	doc, err := e.opener.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	pages := make([]string, 0, doc.NumPage())
	for i := 0; i < doc.NumPage(); i++ {
		text, err := doc.Text(i)
		if err != nil {
			return "", fmt.Errorf("text page %d: %w", i+1, err)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, text)
	}

	out := strings.Join(pages, PageSeparator)
	log.Debug().
		Str("pdf", path).
		Int("pages", doc.NumPage()).
		Int("text_pages", len(pages)).
		Int("chars", len(out)).
		Msg("extracted embedded text")
	return out, nil
}

// PageCount validates the PDF structure with pdfcpu and returns its page count.
func PageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("pdf page count failed: %w", err)
	}
	return n, nil
}
