package filetype

import (
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

// SniffLen is how many leading bytes DetectBytes needs to decide.
const SniffLen = 3072

// FileTypeInfo contains detected file type information
type FileTypeInfo struct {
	MIMEType    string
	Extension   string
	Extractable bool // direct text extraction can be attempted
	Supported   bool
	Description string
}

// Detector handles file type detection using magic bytes
type Detector struct{}

// New creates a new file type detector
func New() *Detector {
	return &Detector{}
}

// Detect detects the actual file type of a file on disk, not by filename
func (d *Detector) Detect(filePath string) (*FileTypeInfo, error) {
	mtype, err := mimetype.DetectFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to detect file type: %w", err)
	}
	log.Debug().Str("mime", mtype.String()).Str("file", filePath).Msg("detected file type")
	return d.classify(mtype), nil
}

// DetectBytes detects the type from the leading bytes of an upload.
func (d *Detector) DetectBytes(head []byte) *FileTypeInfo {
	return d.classify(mimetype.Detect(head))
}

// classify decides whether the pipeline can handle the detected type
func (d *Detector) classify(mtype *mimetype.MIME) *FileTypeInfo {
	info := &FileTypeInfo{
		MIMEType:  baseType(mtype.String()),
		Extension: mtype.Extension(),
	}

	switch info.MIMEType {
	case "application/pdf":
		info.Extractable = true
		info.Supported = true
		info.Description = "PDF document"

	// Formats the recognition backend reads directly
	case "image/png", "image/jpeg", "image/tiff", "image/bmp", "image/gif", "image/webp":
		info.Supported = true
		info.Description = "Image file"

	default:
		info.Description = fmt.Sprintf("Unsupported file type: %s", info.MIMEType)
	}
	return info
}

// baseType drops parameters such as "; charset=utf-8".
func baseType(m string) string {
	if i := strings.Index(m, ";"); i >= 0 {
		return strings.TrimSpace(m[:i])
	}
	return m
}
