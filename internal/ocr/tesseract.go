package ocr

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Tesseract runs the tesseract binary in TSV mode and folds word boxes into
// line spans. Word rows sharing (page, block, paragraph, line) belong to one
// span; the span box is the union of its word boxes.
type Tesseract struct {
	binary    string
	languages string
	pre       *Preprocessor
}

// NewTesseract builds an engine invoking the given binary with the given
// language pack list (e.g. "chi_sim+eng"). Empty arguments fall back to
// "tesseract" and "eng".
func NewTesseract(binary, languages string, pre *Preprocessor) *Tesseract {
	if binary == "" {
		binary = "tesseract"
	}
	if languages == "" {
		languages = "eng"
	}
	return &Tesseract{binary: binary, languages: languages, pre: pre}
}

// Recognize OCRs one raster image and returns its line spans in pixel space.
func (t *Tesseract) Recognize(ctx context.Context, image []byte) ([]Span, error) {
	if t.pre != nil {
		image = t.pre.Enhance(image)
	}

	inputFile := filepath.Join(os.TempDir(), fmt.Sprintf("ocr_%s.png", uuid.NewString()))
	if err := os.WriteFile(inputFile, image, 0644); err != nil {
		return nil, fmt.Errorf("write temp image: %w", err)
	}
	defer os.Remove(inputFile)

	cmd := exec.CommandContext(ctx, t.binary, inputFile, "stdout", "-l", t.languages, "tsv")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("tesseract: %w (%s)", err, strings.TrimSpace(stderr.String()))
	}

	spans := parseTSV(stdout.String())
	slog.Debug("ocr complete", "spans", len(spans), "bytes", len(image))
	return spans, nil
}

type lineKey struct{ page, block, par, line int }

func parseTSV(out string) []Span {
	const wordLevel = 5
	byLine := map[lineKey]*Span{}
	var order []lineKey

	for i, row := range strings.Split(out, "\n") {
		if i == 0 || strings.TrimSpace(row) == "" {
			continue // header
		}
		cols := strings.Split(row, "\t")
		if len(cols) < 12 {
			continue
		}
		level, _ := strconv.Atoi(cols[0])
		if level != wordLevel {
			continue
		}
		conf, _ := strconv.ParseFloat(cols[10], 64)
		text := strings.TrimSpace(cols[11])
		if conf < 0 || text == "" {
			continue
		}
		page, _ := strconv.Atoi(cols[1])
		block, _ := strconv.Atoi(cols[2])
		par, _ := strconv.Atoi(cols[3])
		line, _ := strconv.Atoi(cols[4])
		left, _ := strconv.ParseFloat(cols[6], 64)
		top, _ := strconv.ParseFloat(cols[7], 64)
		width, _ := strconv.ParseFloat(cols[8], 64)
		height, _ := strconv.ParseFloat(cols[9], 64)

		key := lineKey{page, block, par, line}
		span, ok := byLine[key]
		if !ok {
			byLine[key] = &Span{Text: text, MinX: left, MinY: top, MaxX: left + width, MaxY: top + height}
			order = append(order, key)
			continue
		}
		span.Text += " " + text
		span.MinX = min(span.MinX, left)
		span.MinY = min(span.MinY, top)
		span.MaxX = max(span.MaxX, left+width)
		span.MaxY = max(span.MaxY, top+height)
	}

	spans := make([]Span, 0, len(order))
	for _, key := range order {
		spans = append(spans, *byLine[key])
	}
	return spans
}
