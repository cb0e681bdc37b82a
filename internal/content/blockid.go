package content

import (
	"errors"
	"fmt"
	"regexp"
)

// Block IDs address a fragment inside its source document. The document and
// page/sheet components are 1-based ordinals, not database keys, so the same
// file always yields the same addresses.
//
//	PDF / image:       {doc}.{page}.{row}:{col}:{idx}
//	Excel cell:        {doc}.{sheet}.{CELL}          e.g. 1.2.B7
//	Excel merged range:{doc}.{sheet}.{TL}:{BR}       e.g. 1.2.A1:C3

var (
	pdfBlockIDRe        = regexp.MustCompile(`^\d+\.\d+\.\d+:\d+:\d+$`)
	excelCellBlockIDRe  = regexp.MustCompile(`^\d+\.\d+\.[A-Z]+\d+$`)
	excelRangeBlockIDRe = regexp.MustCompile(`^\d+\.\d+\.[A-Z]+\d+:[A-Z]+\d+$`)
)

var errUnclustered = errors.New("bounding box has no row/col/idx assignment")

// PDFBlockID builds the address for a clustered PDF or image fragment.
func PDFBlockID(doc, page int, b BoundingBox) (string, error) {
	if b.Row < 1 || b.Col < 1 || b.Idx < 1 {
		return "", errUnclustered
	}
	return fmt.Sprintf("%d.%d.%d:%d:%d", doc, page, b.Row, b.Col, b.Idx), nil
}

// ExcelCellBlockID builds the address for a single cell, e.g. "1.2.B7".
func ExcelCellBlockID(doc, sheet int, cell string) string {
	return fmt.Sprintf("%d.%d.%s", doc, sheet, cell)
}

// ExcelRangeBlockID builds the address for a merged range, e.g. "1.2.A1:C3".
func ExcelRangeBlockID(doc, sheet int, topLeft, bottomRight string) string {
	return fmt.Sprintf("%d.%d.%s:%s", doc, sheet, topLeft, bottomRight)
}

// ValidPDFBlockID reports whether s is a well-formed PDF/image address.
func ValidPDFBlockID(s string) bool {
	return pdfBlockIDRe.MatchString(s)
}

// ValidExcelBlockID reports whether s is a well-formed cell or merged-range
// address.
func ValidExcelBlockID(s string) bool {
	return excelCellBlockIDRe.MatchString(s) || excelRangeBlockIDRe.MatchString(s)
}

// ValidBlockID checks s against the grammar for the given document kind.
func ValidBlockID(kind Kind, s string) bool {
	switch kind {
	case KindPDF, KindImage:
		return ValidPDFBlockID(s)
	case KindExcel:
		return ValidExcelBlockID(s)
	default:
		return false
	}
}

// AssignPDFBlockIDs stamps every box on every page of a clustered PDF or
// image document. It fails if any box was never clustered.
func AssignPDFBlockIDs(doc int, pages []Page) error {
	for pi := range pages {
		for bi := range pages[pi].Boxes {
			id, err := PDFBlockID(doc, pages[pi].ID, pages[pi].Boxes[bi])
			if err != nil {
				return fmt.Errorf("page %d box %d: %w", pages[pi].ID, bi, err)
			}
			pages[pi].Boxes[bi].ID = id
		}
	}
	return nil
}
