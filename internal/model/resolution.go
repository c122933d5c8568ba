package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidResolution is returned when a resolution falls outside the configured bounds
// or cannot be parsed.
var ErrInvalidResolution = errors.New("parameters provided for resolution are invalid")

// ResolutionBounds holds the inclusive limits a Resolution must respect.
// They are fixed at process start.
type ResolutionBounds struct {
	MinHeight int
	MaxHeight int
	MinWidth  int
	MaxWidth  int
}

// Contains reports whether height and width are both inside the bounds.
func (b ResolutionBounds) Contains(height, width int) bool {
	return b.MinHeight <= height && height <= b.MaxHeight &&
		b.MinWidth <= width && width <= b.MaxWidth
}

// Resolution is a validated (height, width) pair. It is comparable, so two
// resolutions are equal when their fields are.
type Resolution struct {
	Height int `json:"height"`
	Width  int `json:"width"`
}

// NewResolution validates height and width against bounds.
func NewResolution(height, width int, bounds ResolutionBounds) (Resolution, error) {
	if !bounds.Contains(height, width) {
		return Resolution{}, fmt.Errorf("%w: %dx%d", ErrInvalidResolution, height, width)
	}
	return Resolution{Height: height, Width: width}, nil
}

// ParseResolution parses the "HEIGHTxWIDTH" form used in query strings.
func ParseResolution(s string, bounds ResolutionBounds) (Resolution, error) {
	h, w, ok := strings.Cut(s, "x")
	if !ok {
		return Resolution{}, fmt.Errorf("%w: %q", ErrInvalidResolution, s)
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return Resolution{}, fmt.Errorf("%w: height %q", ErrInvalidResolution, h)
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return Resolution{}, fmt.Errorf("%w: width %q", ErrInvalidResolution, w)
	}
	return NewResolution(height, width, bounds)
}

// String renders the resolution as "HEIGHTxWIDTH".
func (r Resolution) String() string {
	return strconv.Itoa(r.Height) + "x" + strconv.Itoa(r.Width)
}
