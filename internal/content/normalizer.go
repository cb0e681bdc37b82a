package content

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/digiflow/invoice-digitization-service/internal/ocr"
)

// Normalizer turns an uploaded file into addressable Metadata. The OCR
// engine is optional; without one, scanned PDFs and images cannot be
// normalized but text-layer PDFs and workbooks still can.
type Normalizer struct {
	engine ocr.Engine
}

func NewNormalizer(engine ocr.Engine) *Normalizer {
	return &Normalizer{engine: engine}
}

// KindForFilename maps a file name to its content family by extension.
func KindForFilename(name string) Kind {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return KindPDF
	case ".xlsx", ".xls":
		return KindExcel
	case ".png", ".jpg", ".jpeg", ".bmp", ".tiff":
		return KindImage
	default:
		return KindInvalid
	}
}

// Normalize dispatches on the file extension. doc is the 1-based document
// ordinal used in block IDs; single-file flows pass 1.
func (n *Normalizer) Normalize(ctx context.Context, doc int, filename string, data []byte) (*Metadata, error) {
	switch KindForFilename(filename) {
	case KindPDF:
		return n.extractPDF(ctx, doc, data)
	case KindExcel:
		return extractExcel(doc, data)
	case KindImage:
		return n.extractImage(ctx, doc, data)
	default:
		return nil, fmt.Errorf("unsupported file type %q", filepath.Ext(filename))
	}
}
