// Package colormap provides color schemes for parcel categories.
package colormap

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

// CategoricalColormap provides distinct colors for categories.
type CategoricalColormap struct {
	colors []color.RGBA
}

// NewCategorical builds a colormap from "#RRGGBB" strings.
func NewCategorical(hex ...string) (CategoricalColormap, error) {
	c := CategoricalColormap{colors: make([]color.RGBA, 0, len(hex))}
	for _, h := range hex {
		rgba, err := ParseHex(h)
		if err != nil {
			return CategoricalColormap{}, err
		}
		c.colors = append(c.colors, rgba)
	}
	return c, nil
}

func mustCategorical(hex ...string) CategoricalColormap {
	c, err := NewCategorical(hex...)
	if err != nil {
		panic(err)
	}
	return c
}

// Len returns the number of distinct colors.
func (c CategoricalColormap) Len() int { return len(c.colors) }

// AtIndex returns color at index (wraps around).
func (c CategoricalColormap) AtIndex(i int) color.RGBA {
	return c.colors[i%len(c.colors)]
}

// Crops is the palette assigned to the most frequent crop categories, in rank order.
var Crops = mustCategorical(
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#96CEB4", "#FFEAA7",
	"#DDA0DD", "#98D8C8", "#F7DC6F", "#BB8FCE", "#85C1E9",
	"#F8C471", "#82E0AA", "#F1948A", "#85C1E9", "#D7BDE2",
)

// Fallback is used for categories outside the palette.
var Fallback = color.RGBA{R: 0x88, G: 0x88, B: 0x88, A: 0xff}

// Hex formats a color as "#RRGGBB".
func Hex(c color.Color) string {
	r, g, b, _ := c.RGBA()
	return fmt.Sprintf("#%02X%02X%02X", r>>8, g>>8, b>>8)
}

// ParseHex parses "#RRGGBB" or "RRGGBB" into an opaque color.
func ParseHex(s string) (color.RGBA, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid hex color %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid hex color %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}
