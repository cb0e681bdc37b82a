package content

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// extractExcel normalizes a workbook. Merged ranges are resolved first: the
// value anchored at the range's top-left cell covers the whole range and the
// member cells are skipped, so a merged header never shows up twice. Cell
// geometry lives in column/row index space, which keeps the clustering and
// prompt layers agnostic of the source family.
func extractExcel(doc int, data []byte) (*Metadata, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	meta := &Metadata{Kind: KindExcel}
	for si, name := range f.GetSheetList() {
		sheet := Sheet{ID: si + 1, Name: name}

		merged, err := f.GetMergeCells(name)
		if err != nil {
			return nil, fmt.Errorf("sheet %q: merge cells: %w", name, err)
		}
		skip := make(map[string]struct{})
		for _, mc := range merged {
			start, end := mc.GetStartAxis(), mc.GetEndAxis()
			sc, sr, err := excelize.CellNameToCoordinates(start)
			if err != nil {
				return nil, fmt.Errorf("sheet %q: range start %q: %w", name, start, err)
			}
			ec, er, err := excelize.CellNameToCoordinates(end)
			if err != nil {
				return nil, fmt.Errorf("sheet %q: range end %q: %w", name, end, err)
			}
			for c := sc; c <= ec; c++ {
				for r := sr; r <= er; r++ {
					cell, _ := excelize.CoordinatesToCellName(c, r)
					skip[cell] = struct{}{}
				}
			}
			value, ok := NormalizeText(mc.GetCellValue())
			if !ok {
				continue
			}
			sheet.Boxes = append(sheet.Boxes, BoundingBox{
				ID:           ExcelRangeBlockID(doc, sheet.ID, start, end),
				RawValue:     value,
				TopLeftX:     float64(sc - 1),
				TopLeftY:     float64(sr - 1),
				BottomRightX: float64(ec),
				BottomRightY: float64(er),
			})
		}

		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("sheet %q: rows: %w", name, err)
		}
		for ri, row := range rows {
			for ci, raw := range row {
				cell, _ := excelize.CoordinatesToCellName(ci+1, ri+1)
				if _, merged := skip[cell]; merged {
					continue
				}
				value, ok := NormalizeText(raw)
				if !ok {
					continue
				}
				sheet.Boxes = append(sheet.Boxes, BoundingBox{
					ID:           ExcelCellBlockID(doc, sheet.ID, cell),
					RawValue:     value,
					TopLeftX:     float64(ci),
					TopLeftY:     float64(ri),
					BottomRightX: float64(ci + 1),
					BottomRightY: float64(ri + 1),
				})
			}
		}
		meta.Sheets = append(meta.Sheets, sheet)
	}
	return meta, nil
}
