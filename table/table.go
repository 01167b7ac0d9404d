// Package table flattens detection results into pixel space rows.
package table

import (
	"fmt"
	"image"
	"sort"

	"github.com/nvr-ai/seedvision/images"
	"github.com/nvr-ai/seedvision/inference"
	"github.com/nvr-ai/seedvision/models"
)

// DefaultThreshold is the score a detection must exceed to be kept.
const DefaultThreshold float32 = 0.5

// Row is one detection with its box in pixel coordinates.
type Row struct {
	// Class is the label id returned by the model.
	Class int `json:"detection_classes"`
	// Label is the human readable class name.
	Label string `json:"label"`
	// Score is the detection confidence in [0, 1].
	Score float32 `json:"detection_scores"`
	// Box corners in pixels; YMin <= YMax and XMin <= XMax.
	YMin float64 `json:"ymin"`
	XMin float64 `json:"xmin"`
	YMax float64 `json:"ymax"`
	XMax float64 `json:"xmax"`
	// Color is the hex box color, empty until assigned by the visualizer.
	Color string `json:"box_color,omitempty"`
}

// Rect returns the pixel rectangle of the row, truncating fractional pixels.
func (r Row) Rect() image.Rectangle {
	return image.Rect(int(r.XMin), int(r.YMin), int(r.XMax), int(r.YMax)).Canon()
}

// Table holds the detections of a single image above a score threshold.
type Table struct {
	// Image is the path of the source image, when known.
	Image string `json:"image,omitempty"`
	// Width and Height of the source image in pixels.
	Width  int `json:"width"`
	Height int `json:"height"`
	// Flipped records that y was measured from the bottom edge.
	Flipped bool `json:"flipped"`
	// Threshold is the score the rows exceed.
	Threshold float32 `json:"threshold"`
	Rows      []Row   `json:"rows"`
}

// Options controls tabulation.
type Options struct {
	// Threshold drops rows whose score is not strictly greater.
	Threshold float32
	// Flip measures y from the bottom edge, y' = (1 - y) * height.
	Flip bool
	// Labels names classes; nil uses the decimal class id.
	Labels *models.OutputClassSet
}

// DefaultOptions keeps detections above DefaultThreshold without flipping.
func DefaultOptions() Options {
	return Options{Threshold: DefaultThreshold}
}

// FromResult tabulates res for an image of the given size.
//
// Arguments:
//   - res: The decoded detections.
//   - size: Width and height of the source image.
//   - opts: Threshold, flip and labels.
//
// Returns:
//   - *Table: Rows in detection order with score > opts.Threshold; possibly empty.
//   - error: An error if res is inconsistent or size is not positive.
func FromResult(res *inference.DetectionResult, size image.Point, opts Options) (*Table, error) {
	if err := res.Validate(); err != nil {
		return nil, err
	}
	if size.X <= 0 || size.Y <= 0 {
		return nil, fmt.Errorf("invalid image size %v", size)
	}

	t := &Table{
		Width:     size.X,
		Height:    size.Y,
		Flipped:   opts.Flip,
		Threshold: opts.Threshold,
		Rows:      make([]Row, 0, res.Count),
	}

	for i := 0; i < res.Count; i++ {
		if res.Scores[i] <= opts.Threshold {
			continue
		}

		class := int(res.Classes[i])
		ymin, xmin, ymax, xmax := Denormalize(res.Boxes[i], size, opts.Flip)
		t.Rows = append(t.Rows, Row{
			Class: class,
			Label: opts.Labels.Name(class),
			Score: res.Scores[i],
			YMin:  ymin,
			XMin:  xmin,
			YMax:  ymax,
			XMax:  xmax,
		})
	}

	return t, nil
}

// FromResultPath tabulates res using the dimensions read from the image at path.
func FromResultPath(res *inference.DetectionResult, path string, opts Options) (*Table, error) {
	size, err := images.Dimensions(path)
	if err != nil {
		return nil, err
	}

	t, err := FromResult(res, size, opts)
	if err != nil {
		return nil, err
	}
	t.Image = path

	return t, nil
}

// Denormalize converts a normalized (ymin, xmin, ymax, xmax) box to pixels.
//
// With flip, y is measured from the bottom edge and the pair is swapped so that the returned
// ymin <= ymax still holds.
func Denormalize(box [4]float32, size image.Point, flip bool) (ymin, xmin, ymax, xmax float64) {
	w, h := float64(size.X), float64(size.Y)

	ymin, ymax = float64(box[0])*h, float64(box[2])*h
	if flip {
		ymin, ymax = (1-float64(box[2]))*h, (1-float64(box[0]))*h
	}
	xmin, xmax = float64(box[1])*w, float64(box[3])*w

	if ymin > ymax {
		ymin, ymax = ymax, ymin
	}
	if xmin > xmax {
		xmin, xmax = xmax, xmin
	}
	return ymin, xmin, ymax, xmax
}

// Normalize is the inverse of Denormalize for the same size and flip.
func Normalize(ymin, xmin, ymax, xmax float64, size image.Point, flip bool) [4]float32 {
	w, h := float64(size.X), float64(size.Y)

	if flip {
		ymin, ymax = h-ymax, h-ymin
	}
	return [4]float32{
		float32(ymin / h),
		float32(xmin / w),
		float32(ymax / h),
		float32(xmax / w),
	}
}

// Unflip returns the row with y measured from the top edge again. Rows of an unflipped
// table are returned unchanged.
func (t *Table) Unflip(r Row) Row {
	if !t.Flipped {
		return r
	}
	h := float64(t.Height)
	r.YMin, r.YMax = h-r.YMax, h-r.YMin
	return r
}

// Size returns the image dimensions.
func (t *Table) Size() image.Point {
	return image.Point{X: t.Width, Y: t.Height}
}

// Classes returns the distinct classes present, ascending.
func (t *Table) Classes() []int {
	seen := make(map[int]bool)
	var classes []int
	for _, r := range t.Rows {
		if !seen[r.Class] {
			seen[r.Class] = true
			classes = append(classes, r.Class)
		}
	}
	sort.Ints(classes)
	return classes
}

// Counts returns the number of rows per class.
func (t *Table) Counts() map[int]int {
	counts := make(map[int]int)
	for _, r := range t.Rows {
		counts[r.Class]++
	}
	return counts
}

// SortByClass orders rows by class, keeping detection order within a class.
func (t *Table) SortByClass() {
	sort.SliceStable(t.Rows, func(i, j int) bool { return t.Rows[i].Class < t.Rows[j].Class })
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	c := *t
	c.Rows = append([]Row(nil), t.Rows...)
	return &c
}
