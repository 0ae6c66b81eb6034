// Package transform turns fetched source images into compressed JPEG
// output. PNG and JPEG inputs are accepted; alpha channels are flattened
// onto white before encoding.
package transform

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	_ "image/png" // register PNG decoding
)

// DefaultQuality matches the service's output target: visibly compressed
// JPEGs at half quality.
const DefaultQuality = 50

// Params controls a transformation.
type Params struct {
	// Quality is the JPEG output quality in [1,100]. Zero means
	// DefaultQuality.
	Quality int
}

// Transformer converts source image bytes into output bytes.
type Transformer interface {
	Transform(ctx context.Context, src []byte, p Params) ([]byte, error)
}

// MalformedError wraps decode failures so callers can classify them.
type MalformedError struct {
	Err error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("transform: malformed image: %v", e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

// JPEG is a Transformer that recompresses any supported input to JPEG.
type JPEG struct{}

var _ Transformer = JPEG{}

// NewJPEG returns the JPEG recompressor.
func NewJPEG() JPEG { return JPEG{} }

// Transform decodes src and re-encodes it as JPEG at p.Quality. Inputs
// with an alpha channel are drawn onto a white background first, since
// JPEG has no transparency.
func (JPEG) Transform(ctx context.Context, src []byte, p Params) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, &MalformedError{Err: err}
	}

	if hasAlpha(img) {
		flat := image.NewRGBA(img.Bounds())
		draw.Draw(flat, flat.Bounds(), image.White, image.Point{}, draw.Src)
		draw.Draw(flat, flat.Bounds(), img, img.Bounds().Min, draw.Over)
		img = flat
	}

	quality := p.Quality
	if quality <= 0 {
		quality = DefaultQuality
	}
	if quality > 100 {
		quality = 100
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("transform: encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// hasAlpha reports whether the image's color model can carry transparency.
func hasAlpha(img image.Image) bool {
	switch img.(type) {
	case *image.NRGBA, *image.NRGBA64, *image.RGBA, *image.RGBA64, *image.Paletted:
		return true
	default:
		return false
	}
}
