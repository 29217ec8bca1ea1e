package filetype

import (
	"bytes"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4))))
	return buf.Bytes()
}

func TestDetectBytes(t *testing.T) {
	d := New()

	pdf := d.DetectBytes([]byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n1 0 obj\n"))
	assert.Equal(t, "application/pdf", pdf.MIMEType)
	assert.True(t, pdf.Supported)
	assert.True(t, pdf.Extractable)

	img := d.DetectBytes(pngBytes(t))
	assert.Equal(t, "image/png", img.MIMEType)
	assert.True(t, img.Supported)
	assert.False(t, img.Extractable)

	txt := d.DetectBytes([]byte("just some notes\n"))
	assert.Equal(t, "text/plain", txt.MIMEType)
	assert.False(t, txt.Supported)
	assert.Contains(t, txt.Description, "Unsupported")

	zip := d.DetectBytes([]byte("PK\x03\x04\x14\x00\x00\x00"))
	assert.False(t, zip.Supported)
}

func TestDetectFileIgnoresExtension(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "scan.pdf")
	require.NoError(t, os.WriteFile(p, pngBytes(t), 0o644))

	info, err := New().Detect(p)
	require.NoError(t, err)
	assert.Equal(t, "image/png", info.MIMEType)
	assert.True(t, info.Supported)
	assert.False(t, info.Extractable)
}

func TestDetectMissingFile(t *testing.T) {
	_, err := New().Detect(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}
