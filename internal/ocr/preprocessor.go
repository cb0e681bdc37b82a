package ocr

import (
	"bytes"
	"image"
	"log/slog"

	"github.com/disintegration/imaging"
)

// Preprocessor enhances a raster image before recognition: grayscale,
// contrast normalization, a light sharpen, and a 2x upscale for small scans
// where glyphs would otherwise be only a few pixels tall.
type Preprocessor struct {
	upscaleBelow int
	maxDimension int
}

// NewPreprocessor builds a preprocessor with the default thresholds: images
// under 1200px on their longest side are doubled, images over 2400px are
// shrunk back to 2400px.
func NewPreprocessor() *Preprocessor {
	return &Preprocessor{upscaleBelow: 1200, maxDimension: 2400}
}

// Enhance applies the pipeline and returns the processed PNG. Any decode or
// encode failure falls back to the original bytes so a bad image degrades
// recognition quality instead of failing the whole document.
func (p *Preprocessor) Enhance(data []byte) []byte {
	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		slog.Warn("preprocess: decode failed, using original image", "err", err)
		return data
	}

	img := imaging.Grayscale(src)
	img = imaging.AdjustContrast(img, 15)
	img = imaging.Sharpen(img, 0.8)

	if longest(img) < p.upscaleBelow {
		img = imaging.Resize(img, img.Bounds().Dx()*2, 0, imaging.Lanczos)
	} else if longest(img) > p.maxDimension {
		if img.Bounds().Dx() >= img.Bounds().Dy() {
			img = imaging.Resize(img, p.maxDimension, 0, imaging.Lanczos)
		} else {
			img = imaging.Resize(img, 0, p.maxDimension, imaging.Lanczos)
		}
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		slog.Warn("preprocess: encode failed, using original image", "err", err)
		return data
	}
	return buf.Bytes()
}

func longest(img image.Image) int {
	if w, h := img.Bounds().Dx(), img.Bounds().Dy(); w > h {
		return w
	} else {
		return h
	}
}
