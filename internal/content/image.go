package content

import (
	"bytes"
	"context"
	"fmt"
	"image"
)

// extractImage normalizes a standalone raster image: OCR spans become the
// boxes of a single page sized to the image, then the page is clustered and
// addressed with the PDF grammar (page component fixed at 1).
func (n *Normalizer) extractImage(ctx context.Context, doc int, data []byte) (*Metadata, error) {
	if n.engine == nil {
		return nil, fmt.Errorf("image input requires an ocr engine")
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	spans, err := n.engine.Recognize(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("recognize image: %w", err)
	}

	page := Page{
		ID:     1,
		Width:  float64(cfg.Width),
		Height: float64(cfg.Height),
		Boxes:  boxesFromSpans(spans, 1, 1),
	}
	ClusterPage(&page)

	meta := &Metadata{Kind: KindImage, Pages: []Page{page}}
	if err := AssignPDFBlockIDs(doc, meta.Pages); err != nil {
		return nil, fmt.Errorf("assign block ids: %w", err)
	}
	return meta, nil
}
