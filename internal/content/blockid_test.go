package content

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPDFBlockID(t *testing.T) {
	b := BoundingBox{Row: 3, Col: 2, Idx: 1}
	id, err := PDFBlockID(1, 4, b)
	require.NoError(t, err)
	assert.Equal(t, "1.4.3:2:1", id)
	assert.True(t, ValidPDFBlockID(id))
}

func TestPDFBlockIDRequiresClustering(t *testing.T) {
	_, err := PDFBlockID(1, 1, BoundingBox{Row: 1, Col: 1})
	assert.Error(t, err)
}

func TestExcelBlockIDs(t *testing.T) {
	cell := ExcelCellBlockID(1, 2, "B7")
	assert.Equal(t, "1.2.B7", cell)
	assert.True(t, ValidExcelBlockID(cell))

	rng := ExcelRangeBlockID(1, 2, "A1", "C3")
	assert.Equal(t, "1.2.A1:C3", rng)
	assert.True(t, ValidExcelBlockID(rng))
}

func TestBlockIDGrammars(t *testing.T) {
	tests := []struct {
		id    string
		pdf   bool
		excel bool
	}{
		{"1.1.1:1:1", true, false},
		{"12.3.45:6:7", true, false},
		{"1.1.B2", false, true},
		{"1.1.AA10", false, true},
		{"1.1.A1:C3", false, true},
		{"1.1.1:1", false, false},
		{"1.1.b2", false, false},
		{"1.1.B2:c3", false, false},
		{"a.1.1:1:1", false, false},
		{"1.1.", false, false},
		{"", false, false},
		{" 1.1.1:1:1", false, false},
		{"1.1.1:1:1 ", false, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.pdf, ValidPDFBlockID(tt.id), "pdf grammar: %q", tt.id)
		assert.Equal(t, tt.excel, ValidExcelBlockID(tt.id), "excel grammar: %q", tt.id)
	}
}

func TestValidBlockIDByKind(t *testing.T) {
	assert.True(t, ValidBlockID(KindPDF, "1.1.1:1:1"))
	assert.True(t, ValidBlockID(KindImage, "1.1.1:1:1"))
	assert.True(t, ValidBlockID(KindExcel, "1.1.B2"))
	assert.False(t, ValidBlockID(KindExcel, "1.1.1:1:1"))
	assert.False(t, ValidBlockID(KindInvalid, "1.1.1:1:1"))
}

func TestAssignPDFBlockIDs(t *testing.T) {
	pages := []Page{{ID: 2, Boxes: []BoundingBox{{Row: 1, Col: 1, Idx: 1}, {Row: 1, Col: 2, Idx: 1}}}}
	require.NoError(t, AssignPDFBlockIDs(1, pages))
	assert.Equal(t, "1.2.1:1:1", pages[0].Boxes[0].ID)
	assert.Equal(t, "1.2.1:2:1", pages[0].Boxes[1].ID)
}
