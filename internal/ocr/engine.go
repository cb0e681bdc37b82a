package ocr

import "context"

// Span is one recognized run of text with its pixel-space extent.
type Span struct {
	Text string  `json:"text"`
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

// CenterX returns the horizontal midpoint of the span.
func (s Span) CenterX() float64 { return (s.MinX + s.MaxX) / 2 }

// CenterY returns the vertical midpoint of the span.
func (s Span) CenterY() float64 { return (s.MinY + s.MaxY) / 2 }

// Engine recognizes text in a raster image. Implementations wrap an external
// OCR runtime; callers treat them as opaque collaborators.
type Engine interface {
	Recognize(ctx context.Context, image []byte) ([]Span, error)
}
