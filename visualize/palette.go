// Package visualize draws tabulated detections as interactive figures and rasters.
package visualize

import (
	"errors"
	"fmt"
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/nvr-ai/seedvision/table"
)

// DefaultPalette holds one box color per class, assigned in ascending class order.
var DefaultPalette = []string{
	"#ff7f0e", // safety orange
	"#1f77b4", // muted blue
	"#2ca02c", // cooked asparagus green
	"#d62728", // brick red
	"#9467bd", // muted purple
	"#8c564b", // chestnut brown
	"#e377c2", // raspberry yogurt pink
	"#7f7f7f", // middle gray
	"#bcbd22", // curry yellow-green
	"#17becf", // blue-teal
}

// ErrPaletteExhausted is returned when a table has more classes than the palette has colors.
var ErrPaletteExhausted = errors.New("detection class number exceedes box pallette see boundry_box_colors()")

// ValidatePalette checks that every entry is a hex color.
func ValidatePalette(palette []string) error {
	if len(palette) == 0 {
		return errors.New("palette is empty")
	}
	for _, hex := range palette {
		if _, err := colorful.Hex(hex); err != nil {
			return fmt.Errorf("invalid palette color %q: %w", hex, err)
		}
	}
	return nil
}

// ClassColors maps each class of t to a palette color, in ascending class order.
func ClassColors(t *table.Table, palette []string) (map[int]string, error) {
	if palette == nil {
		palette = DefaultPalette
	}

	classes := t.Classes()
	if len(classes) > len(palette) {
		return nil, ErrPaletteExhausted
	}

	colors := make(map[int]string, len(classes))
	for i, class := range classes {
		colors[class] = palette[i]
	}
	return colors, nil
}

// AssignColors returns a copy of t sorted by class with the Color of every row set. A nil
// palette selects DefaultPalette.
func AssignColors(t *table.Table, palette []string) (*table.Table, error) {
	colors, err := ClassColors(t, palette)
	if err != nil {
		return nil, err
	}

	out := t.Clone()
	out.SortByClass()
	for i := range out.Rows {
		out.Rows[i].Color = colors[out.Rows[i].Class]
	}
	return out, nil
}

// rgba converts a hex color; invalid input yields opaque black.
func rgba(hex string) color.RGBA {
	c, err := colorful.Hex(hex)
	if err != nil {
		return color.RGBA{A: 0xff}
	}
	r, g, b := c.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 0xff}
}
