package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/Mozzicato/Lumen/internal/ocr"
)

// Tesseract implements ocr.Backend using the gosseract client.
type Tesseract struct {
	languages     []string
	tessdata      string
	clientFactory func() *gosseract.Client
}

// NewTesseract builds the backend and runs a probe recognition so that a
// missing library or language pack surfaces here rather than per page.
func NewTesseract(languages []string, tessdata string) (*Tesseract, error) {
	t := &Tesseract{languages: languages, tessdata: tessdata, clientFactory: gosseract.NewClient}
	if err := t.probe(); err != nil {
		return nil, fmt.Errorf("initialize tesseract: %w", err)
	}
	return t, nil
}

// NewEngine is the startup constructor: an init failure yields an unavailable Engine.
func NewEngine(languages []string, tessdata string) *ocr.Engine {
	t, err := NewTesseract(languages, tessdata)
	if err != nil {
		return ocr.New(nil, err)
	}
	return ocr.New(t, nil)
}

func (t *Tesseract) Name() string { return "tesseract" }

func (t *Tesseract) client() (*gosseract.Client, error) {
	c := t.clientFactory()
	if t.tessdata != "" {
		if err := c.SetTessdataPrefix(t.tessdata); err != nil {
			c.Close()
			return nil, fmt.Errorf("set tessdata prefix: %w", err)
		}
	}
	if len(t.languages) > 0 {
		if err := c.SetLanguage(t.languages...); err != nil {
			c.Close()
			return nil, fmt.Errorf("set languages: %w", err)
		}
	}
	return c, nil
}

// Recognize returns the text lines tesseract finds in reading order.
func (t *Tesseract) Recognize(ctx context.Context, imagePath string) ([]ocr.Line, error) {
	c, err := t.client()
	if err != nil {
		return nil, err
	}
	defer c.Close()

	if err := c.SetImage(imagePath); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, fmt.Errorf("recognize lines: %w", err)
	}
	lines := make([]ocr.Line, 0, len(boxes))
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		lines = append(lines, ocr.Line{Text: text, Confidence: b.Confidence / 100.0})
	}
	return lines, nil
}

func (t *Tesseract) probe() error {
	c, err := t.client()
	if err != nil {
		return err
	}
	defer c.Close()

	img := image.NewGray(image.Rect(0, 0, 32, 32))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return err
	}
	if err := c.SetImageFromBytes(buf.Bytes()); err != nil {
		return fmt.Errorf("set image: %w", err)
	}
	if _, err := c.Text(); err != nil {
		return err
	}
	return nil
}
