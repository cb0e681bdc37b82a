package content

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	_ "image/jpeg"
	_ "image/png"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"

	"github.com/digiflow/invoice-digitization-service/internal/ocr"
)

const (
	defaultPageWidth  = 612.0 // US Letter, PDF points
	defaultPageHeight = 792.0
	rasterDPI         = 200
)

// extractPDF normalizes a PDF. Pages whose text layer passes the sufficiency
// gate are read directly from the content stream; the rest (pure scans and
// scans wrapped in a thin text shell) are rasterized and sent through the OCR
// engine, with span coordinates scaled back into PDF point space so every
// page shares one coordinate system.
func (n *Normalizer) extractPDF(ctx context.Context, doc int, data []byte) (*Metadata, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	meta := &Metadata{Kind: KindPDF}
	for pageNum := 1; pageNum <= r.NumPage(); pageNum++ {
		p := r.Page(pageNum)
		if p.V.IsNull() {
			continue
		}
		width, height := pageSize(p)
		page := Page{ID: pageNum, Width: width, Height: height}

		textBoxes := spansFromChars(p.Content().Text, height)
		page.Boxes = textBoxes
		if n.engine != nil && !textLayerSufficient(joinBoxText(textBoxes)) {
			boxes, err := n.ocrPDFPage(ctx, data, pageNum, width, height)
			if err != nil {
				slog.Warn("pdf page ocr failed, keeping text layer", "page", pageNum, "err", err)
			} else {
				page.Boxes = boxes
			}
		}

		ClusterPage(&page)
		meta.Pages = append(meta.Pages, page)
	}

	if err := AssignPDFBlockIDs(doc, meta.Pages); err != nil {
		return nil, fmt.Errorf("assign block ids: %w", err)
	}
	return meta, nil
}

var (
	invoiceKeywords = []string{"发票", "购买方", "销售方", "税额", "价税合计", "纳税人"}

	longDigitRun   = regexp.MustCompile(`\d{8,}`)
	taxIDToken     = regexp.MustCompile(`\b[0-9A-Z]{15,20}\b`)
	currencyAmount = regexp.MustCompile(`[¥￥$]\s*\d[\d,]*(\.\d+)?|\b\d+\.\d{2}\b`)
)

// textLayerSufficient decides whether an embedded text layer can be trusted.
// A real invoice layer is long enough, mentions invoice vocabulary, and
// carries at least one token shaped like an invoice number, tax ID or
// amount; anything less is treated as a scan and re-recognized.
func textLayerSufficient(text string) bool {
	if utf8.RuneCountInString(text) <= 100 {
		return false
	}
	keyword := false
	for _, kw := range invoiceKeywords {
		if strings.Contains(text, kw) {
			keyword = true
			break
		}
	}
	if !keyword {
		return false
	}
	return longDigitRun.MatchString(text) ||
		taxIDToken.MatchString(text) ||
		currencyAmount.MatchString(text)
}

func joinBoxText(boxes []BoundingBox) string {
	parts := make([]string, 0, len(boxes))
	for _, b := range boxes {
		parts = append(parts, b.RawValue)
	}
	return strings.Join(parts, "\n")
}

func pageSize(p pdf.Page) (float64, float64) {
	mb := p.V.Key("MediaBox")
	if mb.Kind() != pdf.Array || mb.Len() != 4 {
		return defaultPageWidth, defaultPageHeight
	}
	w := mb.Index(2).Float64() - mb.Index(0).Float64()
	h := mb.Index(3).Float64() - mb.Index(1).Float64()
	if w <= 0 || h <= 0 {
		return defaultPageWidth, defaultPageHeight
	}
	return w, h
}

// spansFromChars groups the page's characters into line spans. Characters
// within half a font size vertically share a line; a horizontal jump wider
// than 60% of the font size splits a line into separate spans. PDF Y grows
// upward, so boxes are flipped into top-origin space here.
func spansFromChars(chars []pdf.Text, pageHeight float64) []BoundingBox {
	kept := make([]pdf.Text, 0, len(chars))
	for _, c := range chars {
		if strings.TrimSpace(c.S) != "" || c.S == " " {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	sort.SliceStable(kept, func(a, b int) bool {
		if kept[a].Y != kept[b].Y {
			return kept[a].Y > kept[b].Y // top of page first
		}
		return kept[a].X < kept[b].X
	})

	var lines [][]pdf.Text
	for _, c := range kept {
		if len(lines) > 0 {
			last := lines[len(lines)-1]
			tol := last[0].FontSize / 2
			if tol <= 0 {
				tol = 2
			}
			if abs(c.Y-last[0].Y) <= tol {
				lines[len(lines)-1] = append(last, c)
				continue
			}
		}
		lines = append(lines, []pdf.Text{c})
	}

	var boxes []BoundingBox
	for _, line := range lines {
		sort.SliceStable(line, func(a, b int) bool { return line[a].X < line[b].X })
		start := 0
		for i := 1; i <= len(line); i++ {
			split := i == len(line)
			if !split {
				prev := line[i-1]
				gap := line[i].X - (prev.X + prev.W)
				if gap > maxFloat(prev.FontSize, 6)*0.6 {
					split = true
				}
			}
			if !split {
				continue
			}
			if b, ok := spanBox(line[start:i], pageHeight); ok {
				boxes = append(boxes, b)
			}
			start = i
		}
	}
	return boxes
}

func spanBox(chars []pdf.Text, pageHeight float64) (BoundingBox, bool) {
	var sb strings.Builder
	minX, maxX := chars[0].X, chars[0].X
	maxFont := 0.0
	baseline := chars[0].Y
	for _, c := range chars {
		sb.WriteString(c.S)
		minX = minFloat(minX, c.X)
		maxX = maxFloat(maxX, c.X+c.W)
		maxFont = maxFloat(maxFont, c.FontSize)
	}
	if maxFont <= 0 {
		maxFont = 10
	}
	text, ok := NormalizeText(sb.String())
	if !ok {
		return BoundingBox{}, false
	}
	return BoundingBox{
		RawValue:     text,
		TopLeftX:     minX,
		TopLeftY:     pageHeight - (baseline + maxFont),
		BottomRightX: maxX,
		BottomRightY: pageHeight - baseline,
	}, true
}

// ocrPDFPage rasterizes one page with pdftoppm and recognizes it, mapping the
// resulting pixel boxes into the page's point space.
func (n *Normalizer) ocrPDFPage(ctx context.Context, data []byte, pageNum int, width, height float64) ([]BoundingBox, error) {
	png, imgW, imgH, err := rasterizePage(ctx, data, pageNum)
	if err != nil {
		return nil, err
	}
	spans, err := n.engine.Recognize(ctx, png)
	if err != nil {
		return nil, fmt.Errorf("recognize page %d: %w", pageNum, err)
	}
	scaleX, scaleY := width/float64(imgW), height/float64(imgH)
	return boxesFromSpans(spans, scaleX, scaleY), nil
}

// RenderPagePNG rasterizes one PDF page at the standard DPI, for callers
// that feed page images to a vision model.
func RenderPagePNG(ctx context.Context, data []byte, pageNum int) ([]byte, error) {
	png, _, _, err := rasterizePage(ctx, data, pageNum)
	return png, err
}

func rasterizePage(ctx context.Context, data []byte, pageNum int) ([]byte, int, int, error) {
	tmpDir := os.TempDir()
	stem := fmt.Sprintf("raster_%s", uuid.NewString())
	inputFile := filepath.Join(tmpDir, stem+".pdf")
	outputStem := filepath.Join(tmpDir, stem)

	if err := os.WriteFile(inputFile, data, 0644); err != nil {
		return nil, 0, 0, fmt.Errorf("write temp pdf: %w", err)
	}
	defer os.Remove(inputFile)

	page := fmt.Sprintf("%d", pageNum)
	cmd := exec.CommandContext(ctx, "pdftoppm", "-png", "-r", fmt.Sprintf("%d", rasterDPI),
		"-f", page, "-l", page, "-singlefile", inputFile, outputStem)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, 0, 0, fmt.Errorf("pdftoppm: %w (%s)", err, strings.TrimSpace(stderr.String()))
	}
	outputFile := outputStem + ".png"
	defer os.Remove(outputFile)

	png, err := os.ReadFile(outputFile)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("read raster: %w", err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(png))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode raster: %w", err)
	}
	return png, cfg.Width, cfg.Height, nil
}

func boxesFromSpans(spans []ocr.Span, scaleX, scaleY float64) []BoundingBox {
	boxes := make([]BoundingBox, 0, len(spans))
	for _, s := range spans {
		text, ok := NormalizeText(s.Text)
		if !ok {
			continue
		}
		boxes = append(boxes, BoundingBox{
			RawValue:     text,
			TopLeftX:     s.MinX * scaleX,
			TopLeftY:     s.MinY * scaleY,
			BottomRightX: s.MaxX * scaleX,
			BottomRightY: s.MaxY * scaleY,
		})
	}
	return boxes
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
