package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digiflow/invoice-digitization-service/internal/content"
	"github.com/digiflow/invoice-digitization-service/internal/reconcile"
)

func TestRetryWithBackoffSucceedsWithoutGivingUp(t *testing.T) {
	var calls, reverts int
	err := retryWithBackoff(context.Background(), 3, time.Millisecond,
		func(context.Context, int) error {
			calls++
			if calls < 2 {
				return errors.New("transient")
			}
			return nil
		},
		func(context.Context) { reverts++ })
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Zero(t, reverts)
}

func TestRetryWithBackoffGivesUpAfterExhaustion(t *testing.T) {
	var calls, reverts int
	err := retryWithBackoff(context.Background(), 3, time.Millisecond,
		func(context.Context, int) error {
			calls++
			return errors.New("persistent")
		},
		func(context.Context) { reverts++ })
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 1, reverts)
}

func TestRetryWithBackoffRevertsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var reverts int
	var revertCtx context.Context
	err := retryWithBackoff(ctx, 3, time.Hour,
		func(context.Context, int) error {
			cancel()
			return errors.New("fails, then the pause is interrupted")
		},
		func(ctx context.Context) {
			reverts++
			revertCtx = ctx
		})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, reverts)
	// The revert runs on a detached context so its writes still land.
	assert.NoError(t, revertCtx.Err())
}

func TestVisionInputRendersPDFFirstPage(t *testing.T) {
	rendered := []byte("png-bytes")
	var gotPage int
	render := func(_ context.Context, _ []byte, pageNum int) ([]byte, error) {
		gotPage = pageNum
		return rendered, nil
	}

	img, ok := visionInput(context.Background(), content.KindPDF, []byte("%PDF-1.7"), render)
	require.True(t, ok)
	assert.Equal(t, rendered, img)
	assert.Equal(t, 1, gotPage)
}

func TestVisionInputPassesImagesThrough(t *testing.T) {
	data := []byte{0x89, 'P', 'N', 'G'}
	img, ok := visionInput(context.Background(), content.KindImage, data,
		func(context.Context, []byte, int) ([]byte, error) {
			t.Fatal("images never go through the rasterizer")
			return nil, nil
		})
	require.True(t, ok)
	assert.Equal(t, data, img)
}

func TestVisionInputFallsBackWhenRasterFails(t *testing.T) {
	_, ok := visionInput(context.Background(), content.KindPDF, nil,
		func(context.Context, []byte, int) ([]byte, error) {
			return nil, errors.New("pdftoppm missing")
		})
	assert.False(t, ok)

	_, ok = visionInput(context.Background(), content.KindExcel, []byte("book"), nil)
	assert.False(t, ok)
}

func TestFlattenCollectsPagesAndSheets(t *testing.T) {
	meta := &content.Metadata{
		Kind: content.KindPDF,
		Pages: []content.Page{
			{ID: 1, Boxes: []content.BoundingBox{
				{RawValue: "发票号码：123", TopLeftX: 10, TopLeftY: 20, BottomRightX: 110, BottomRightY: 35},
				{RawValue: "金额：100.00", TopLeftX: 10, TopLeftY: 40, BottomRightX: 90, BottomRightY: 55},
			}},
		},
	}

	text, spans := flatten(meta)

	assert.Equal(t, "发票号码：123\n金额：100.00", text)
	assert.Len(t, spans, 2)
	assert.Equal(t, 10.0, spans[0].MinX)
	assert.Equal(t, 35.0, spans[0].MaxY)
	assert.Equal(t, "金额：100.00", spans[1].Text)
}

func TestRuleConfidenceCountsComparableFields(t *testing.T) {
	assert.Equal(t, 0.0, ruleConfidence(map[string]string{}))

	full := map[string]string{}
	for _, f := range reconcile.ComparableFields {
		full[f] = "x"
	}
	assert.Equal(t, 1.0, ruleConfidence(full))

	half := map[string]string{
		reconcile.ComparableFields[0]: "x",
		"unrelated":                   "y",
		reconcile.ComparableFields[1]: "  ", // blank values do not count
	}
	assert.InDelta(t, 1.0/float64(len(reconcile.ComparableFields)), ruleConfidence(half), 1e-9)
}
