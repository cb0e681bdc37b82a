package content

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func buildWorkbook(t *testing.T, fill func(f *excelize.File)) []byte {
	t.Helper()
	f := excelize.NewFile()
	fill(f)
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

func boxByID(t *testing.T, s Sheet, id string) BoundingBox {
	t.Helper()
	for _, b := range s.Boxes {
		if b.ID == id {
			return b
		}
	}
	t.Fatalf("no box with id %s", id)
	return BoundingBox{}
}

func TestExtractExcelCells(t *testing.T) {
	data := buildWorkbook(t, func(f *excelize.File) {
		f.SetCellValue("Sheet1", "A1", "invoice")
		f.SetCellValue("Sheet1", "B2", 42)
	})
	meta, err := extractExcel(1, data)
	require.NoError(t, err)
	require.Len(t, meta.Sheets, 1)
	assert.Equal(t, KindExcel, meta.Kind)

	a1 := boxByID(t, meta.Sheets[0], "1.1.A1")
	assert.Equal(t, "invoice", a1.RawValue)
	assert.Equal(t, 0.0, a1.TopLeftX)
	assert.Equal(t, 0.0, a1.TopLeftY)
	assert.Equal(t, 1.0, a1.BottomRightX)
	assert.Equal(t, 1.0, a1.BottomRightY)

	b2 := boxByID(t, meta.Sheets[0], "1.1.B2")
	assert.Equal(t, "42", b2.RawValue)
	assert.Equal(t, 1.0, b2.TopLeftX)
	assert.Equal(t, 1.0, b2.TopLeftY)
}

func TestExtractExcelMergedRangePrecedence(t *testing.T) {
	data := buildWorkbook(t, func(f *excelize.File) {
		f.SetCellValue("Sheet1", "A1", "title")
		require.NoError(t, f.MergeCell("Sheet1", "A1", "C2"))
		f.SetCellValue("Sheet1", "A4", "below")
	})
	meta, err := extractExcel(1, data)
	require.NoError(t, err)
	sheet := meta.Sheets[0]

	rng := boxByID(t, sheet, "1.1.A1:C2")
	assert.Equal(t, "title", rng.RawValue)
	assert.Equal(t, 0.0, rng.TopLeftX)
	assert.Equal(t, 3.0, rng.BottomRightX)
	assert.Equal(t, 2.0, rng.BottomRightY)

	// Members of the merged range must not appear as standalone cells.
	for _, b := range sheet.Boxes {
		assert.NotEqual(t, "1.1.A1", b.ID)
		assert.NotEqual(t, "1.1.B1", b.ID)
	}
	assert.Equal(t, "below", boxByID(t, sheet, "1.1.A4").RawValue)
}

func TestExtractExcelSkipsEmptyCells(t *testing.T) {
	data := buildWorkbook(t, func(f *excelize.File) {
		f.SetCellValue("Sheet1", "A1", "x")
		f.SetCellValue("Sheet1", "C1", "   ")
	})
	meta, err := extractExcel(1, data)
	require.NoError(t, err)
	require.Len(t, meta.Sheets[0].Boxes, 1)
	assert.Equal(t, "1.1.A1", meta.Sheets[0].Boxes[0].ID)
}

func TestExtractExcelNormalizesCJK(t *testing.T) {
	data := buildWorkbook(t, func(f *excelize.File) {
		f.SetCellValue("Sheet1", "A1", "发 票 号 码")
	})
	meta, err := extractExcel(1, data)
	require.NoError(t, err)
	assert.Equal(t, "发票号码", meta.Sheets[0].Boxes[0].RawValue)
}
