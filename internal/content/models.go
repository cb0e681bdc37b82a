package content

import "fmt"

// Kind identifies the family a source file was normalized from.
type Kind int

const (
	KindInvalid Kind = iota
	KindPDF
	KindExcel
	KindImage
)

func (k Kind) String() string {
	switch k {
	case KindPDF:
		return "pdf"
	case KindExcel:
		return "excel"
	case KindImage:
		return "image"
	default:
		return "invalid"
	}
}

// BoundingBox is a single addressable text fragment. Coordinates are in the
// source document's own space: PDF points for PDF pages, pixels for images,
// column/row indices for spreadsheets. Row, Col and Idx are zero until the
// clusterer assigns them; afterwards all three are 1-based.
type BoundingBox struct {
	ID           string  `json:"id"`
	RawValue     string  `json:"raw_value"`
	TopLeftX     float64 `json:"top_left_x"`
	TopLeftY     float64 `json:"top_left_y"`
	BottomRightX float64 `json:"bottom_right_x"`
	BottomRightY float64 `json:"bottom_right_y"`
	Row          int     `json:"row,omitempty"`
	Col          int     `json:"col,omitempty"`
	Idx          int     `json:"idx,omitempty"`
}

// Height returns the vertical extent of the box.
func (b BoundingBox) Height() float64 {
	return b.BottomRightY - b.TopLeftY
}

// Page holds the fragments of one rendered page. ID is 1-based.
type Page struct {
	ID     int           `json:"id"`
	Width  float64       `json:"width"`
	Height float64       `json:"height"`
	Boxes  []BoundingBox `json:"bounding_boxes"`
}

// Sheet holds the non-empty cells of one worksheet. ID is 1-based and follows
// workbook order, independent of the sheet name.
type Sheet struct {
	ID    int           `json:"id"`
	Name  string        `json:"name"`
	Boxes []BoundingBox `json:"bounding_boxes"`
}

// Metadata is the normalized form of an uploaded file. Exactly one of Pages
// or Sheets is populated depending on Kind.
type Metadata struct {
	Kind   Kind    `json:"kind"`
	Pages  []Page  `json:"pages,omitempty"`
	Sheets []Sheet `json:"sheets,omitempty"`
}

// BlockIDs returns the set of every assigned block ID in the metadata.
func (m *Metadata) BlockIDs() map[string]struct{} {
	ids := make(map[string]struct{})
	for _, p := range m.Pages {
		for _, b := range p.Boxes {
			if b.ID != "" {
				ids[b.ID] = struct{}{}
			}
		}
	}
	for _, s := range m.Sheets {
		for _, b := range s.Boxes {
			if b.ID != "" {
				ids[b.ID] = struct{}{}
			}
		}
	}
	return ids
}

// Lines renders the metadata as "[block_id] text" lines grouped per page or
// sheet, the form fed to prompt builders.
func (m *Metadata) Lines() [][]string {
	var groups [][]string
	for _, p := range m.Pages {
		lines := make([]string, 0, len(p.Boxes))
		for _, b := range p.Boxes {
			lines = append(lines, fmt.Sprintf("[%s] %s", b.ID, b.RawValue))
		}
		groups = append(groups, lines)
	}
	for _, s := range m.Sheets {
		lines := make([]string, 0, len(s.Boxes))
		for _, b := range s.Boxes {
			lines = append(lines, fmt.Sprintf("[%s] %s", b.ID, b.RawValue))
		}
		groups = append(groups, lines)
	}
	return groups
}
