// Package viewport parses and formats browser viewport sizes written as
// WIDTHxHEIGHT (e.g. "1366x768").
package viewport

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	// MinDimension is the smallest accepted width or height.
	MinDimension = 200

	// MaxDimension is the largest accepted width or height. Larger captures
	// produce absurd screenshots and risk exhausting memory.
	MaxDimension = 8000
)

// Default is used when neither configuration nor environment provide a
// valid viewport.
var Default = Viewport{Width: 1366, Height: 768}

var viewportRe = regexp.MustCompile(`^\s*(\d{2,5})\s*[xX]\s*(\d{2,5})\s*$`)

// Viewport is a browser viewport size in CSS pixels.
type Viewport struct {
	Width  int
	Height int
}

// String returns the viewport in WIDTHxHEIGHT form.
func (v Viewport) String() string {
	return Format(v.Width, v.Height)
}

// Parse parses a WIDTHxHEIGHT string. The separator is case-insensitive and
// surrounding whitespace is ignored. Dimensions outside
// [MinDimension, MaxDimension] are rejected.
func Parse(raw string) (Viewport, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Viewport{}, false
	}

	m := viewportRe.FindStringSubmatch(raw)
	if m == nil {
		return Viewport{}, false
	}

	width, err := strconv.Atoi(m[1])
	if err != nil {
		return Viewport{}, false
	}
	height, err := strconv.Atoi(m[2])
	if err != nil {
		return Viewport{}, false
	}

	if width < MinDimension || height < MinDimension {
		return Viewport{}, false
	}
	if width > MaxDimension || height > MaxDimension {
		return Viewport{}, false
	}
	return Viewport{Width: width, Height: height}, true
}

// Format renders a width and height as WIDTHxHEIGHT.
func Format(width, height int) string {
	return fmt.Sprintf("%dx%d", width, height)
}

// Resolve returns the first value that parses, in order, or Default.
func Resolve(values ...string) Viewport {
	for _, v := range values {
		if vp, ok := Parse(v); ok {
			return vp
		}
	}
	return Default
}
