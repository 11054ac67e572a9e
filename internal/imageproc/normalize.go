// Package imageproc prepares uploaded diagram images for the vision model.
package imageproc

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/png"
	"log/slog"

	_ "image/jpeg"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// darkThreshold is the luminance (0-255) below which an image is treated as a
// dark-mode screenshot and inverted before contrast stretching.
const darkThreshold = 128

// Normalizer cleans up photographed or screenshotted ER diagrams so that
// diagram lines and text stay legible to OCR-oriented vision models.
type Normalizer struct {
	logger *slog.Logger
}

// NewNormalizer creates a Normalizer. A nil logger falls back to slog.Default.
func NewNormalizer(logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{logger: logger}
}

// Normalize returns a base64-encoded PNG of the enhanced image. It never
// fails: on any decode or processing problem the original bytes are returned
// base64-encoded as-is, so normalization is best-effort and never blocks the
// pipeline.
func (n *Normalizer) Normalize(data []byte) string {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return base64.StdEncoding.EncodeToString(data)
	}

	rgba := toRGBA(img)

	if averageLuminance(rgba) < darkThreshold {
		n.logger.Info("dark mode detected, inverting image")
		invert(rgba)
	}
	autocontrast(rgba)

	var buf bytes.Buffer
	if err := png.Encode(&buf, rgba); err != nil {
		return base64.StdEncoding.EncodeToString(data)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// DataURL wraps a base64 PNG payload in a data URL for multimodal chat messages.
func DataURL(b64 string) string {
	return "data:image/png;base64," + b64
}

// toRGBA converts any decoded image to a standard RGBA representation.
func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Copy(rgba, bounds.Min, img, bounds, draw.Src, nil)
	return rgba
}

// averageLuminance estimates scene brightness by downsampling the image to a
// single pixel and converting it to grayscale.
func averageLuminance(img *image.RGBA) float64 {
	pixel := image.NewRGBA(image.Rect(0, 0, 1, 1))
	draw.ApproxBiLinear.Scale(pixel, pixel.Bounds(), img, img.Bounds(), draw.Src, nil)
	r := float64(pixel.Pix[0])
	g := float64(pixel.Pix[1])
	b := float64(pixel.Pix[2])
	return 0.299*r + 0.587*g + 0.114*b
}

// invert flips every color channel in place, restoring dark-on-light polarity
// for light-on-dark diagram screenshots.
func invert(img *image.RGBA) {
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255 - img.Pix[i]
		img.Pix[i+1] = 255 - img.Pix[i+1]
		img.Pix[i+2] = 255 - img.Pix[i+2]
	}
}

// autocontrast remaps each color channel so its values span the full 0-255
// range, improving legibility of faint lines and text.
func autocontrast(img *image.RGBA) {
	var lo, hi [3]uint8
	for c := 0; c < 3; c++ {
		lo[c] = 255
	}
	for i := 0; i < len(img.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			v := img.Pix[i+c]
			if v < lo[c] {
				lo[c] = v
			}
			if v > hi[c] {
				hi[c] = v
			}
		}
	}
	for c := 0; c < 3; c++ {
		if lo[c] >= hi[c] {
			continue // flat channel, nothing to stretch
		}
		scale := 255.0 / float64(hi[c]-lo[c])
		for i := 0; i < len(img.Pix); i += 4 {
			img.Pix[i+c] = uint8(float64(img.Pix[i+c]-lo[c])*scale + 0.5)
		}
	}
}
