// Package imageproc resizes stored images to a requested resolution.
package imageproc

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"

	"github.com/leca/dt-image-store/internal/model"
)

var (
	// ErrUnsupportedFormat is returned for data that is neither PNG nor JPEG.
	ErrUnsupportedFormat = errors.New("unsupported image format")
	// ErrTooManyPixels is returned for images declaring more pixels than allowed.
	ErrTooManyPixels = errors.New("image exceeds pixel limit")
)

// DefaultMaxPixels is 16383 x 16383, the usual decoder ceiling.
const DefaultMaxPixels int64 = 0x3FFF * 0x3FFF

// Fit selects how the source is mapped onto the target box.
type Fit string

const (
	// FitCover scales to cover the box and center-crops the overflow.
	FitCover Fit = "cover"
	// FitContain scales to fit inside the box, enlarging if needed.
	FitContain Fit = "contain"
	// FitScaleDown is FitContain that never enlarges.
	FitScaleDown Fit = "scale-down"
	// FitCrop center-crops to the box without scaling.
	FitCrop Fit = "crop"
	// FitPad is FitContain padded with white to the exact box.
	FitPad Fit = "pad"
)

// ParseFit returns the fit mode named s. An empty string selects FitCover.
func ParseFit(s string) (Fit, error) {
	switch f := Fit(s); f {
	case "":
		return FitCover, nil
	case FitCover, FitContain, FitScaleDown, FitCrop, FitPad:
		return f, nil
	default:
		return "", fmt.Errorf("unknown fit mode %q", s)
	}
}

// Resizer turns original image bytes into a derivative at a resolution,
// keeping the source encoding.
type Resizer struct {
	Fit Fit
	// MaxPixels caps width*height of a decoded source. Zero means DefaultMaxPixels.
	MaxPixels int64
}

// NewResizer returns a resizer using fit that refuses sources above maxPixels.
func NewResizer(fit Fit, maxPixels int64) *Resizer {
	return &Resizer{Fit: fit, MaxPixels: maxPixels}
}

// CheckPixels reads only the header of data and fails with ErrTooManyPixels
// when it declares more than maxPixels. A non-positive maxPixels selects
// DefaultMaxPixels.
func CheckPixels(data []byte, maxPixels int64) error {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("reading image header: %w", err)
	}
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	if px := int64(cfg.Width) * int64(cfg.Height); px > maxPixels {
		return fmt.Errorf("%w: %dx%d is %d pixels, limit is %d",
			ErrTooManyPixels, cfg.Width, cfg.Height, px, maxPixels)
	}
	return nil
}

// DetectFormat reports the imaging format of data from its leading bytes.
func DetectFormat(data []byte) (imaging.Format, error) {
	mt := mimetype.Detect(data)
	switch {
	case mt.Is("image/png"):
		return imaging.PNG, nil
	case mt.Is("image/jpeg"):
		return imaging.JPEG, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, mt.String())
	}
}

// Resize decodes data, maps it onto res and encodes it in its original format.
func (r *Resizer) Resize(data []byte, res model.Resolution) ([]byte, error) {
	format, err := DetectFormat(data)
	if err != nil {
		return nil, err
	}
	// Decoding allocates the full canvas, so the header is checked first.
	if err := CheckPixels(data, r.MaxPixels); err != nil {
		return nil, err
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}

	img = r.apply(img, res.Width, res.Height)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("encoding image: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *Resizer) apply(img image.Image, w, h int) image.Image {
	switch r.Fit {
	case FitContain:
		return fitContain(img, w, h)
	case FitScaleDown:
		b := img.Bounds()
		if b.Dx() <= w && b.Dy() <= h {
			return img
		}
		return imaging.Fit(img, w, h, imaging.Lanczos)
	case FitCrop:
		return imaging.CropCenter(img, w, h)
	case FitPad:
		fitted := imaging.Fit(img, w, h, imaging.Lanczos)
		return imaging.PasteCenter(imaging.New(w, h, image.White), fitted)
	default:
		return imaging.Fill(img, w, h, imaging.Center, imaging.Lanczos)
	}
}

// fitContain scales img to fit within w x h preserving aspect ratio. Unlike
// imaging.Fit it also enlarges.
func fitContain(img image.Image, w, h int) image.Image {
	origW := img.Bounds().Dx()
	origH := img.Bounds().Dy()

	scale := float64(w) / float64(origW)
	if s := float64(h) / float64(origH); s < scale {
		scale = s
	}

	newW := max(int(float64(origW)*scale+0.5), 1)
	newH := max(int(float64(origH)*scale+0.5), 1)
	return imaging.Resize(img, newW, newH, imaging.Lanczos)
}
