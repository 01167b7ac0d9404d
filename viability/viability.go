// Package viability computes germination percentages from tabulated detections.
package viability

import (
	"errors"
	"fmt"
	"sort"

	"github.com/nvr-ai/seedvision/table"
	"github.com/nvr-ai/seedvision/util"
)

// Default class ids of the germination detector.
const (
	DefaultGerminatedClass   = 1
	DefaultUngerminatedClass = 2
)

var (
	// ErrEmptyTable is returned for a table without rows.
	ErrEmptyTable = errors.New("no detections to compute viability from")
	// ErrMissingClass is returned when one of the two expected classes is absent.
	ErrMissingClass = errors.New("expected class missing from detections")
)

// Summary is the germination statistic of one image, or of a parent image when aggregated.
type Summary struct {
	GerminatedCount   int     `json:"germinated_count"`
	UngerminatedCount int     `json:"ungerminated_count"`
	TotalCount        int     `json:"total_count"`
	PercentViability  float64 `json:"percent_viability"`
	ParentImage       string  `json:"parent_image"`
	ImagePath         string  `json:"image_path,omitempty"`
}

// Calculator counts the two germination classes of a table.
type Calculator struct {
	GerminatedClass   int
	UngerminatedClass int
}

// NewCalculator returns a calculator for the default class ids.
func NewCalculator() Calculator {
	return Calculator{
		GerminatedClass:   DefaultGerminatedClass,
		UngerminatedClass: DefaultUngerminatedClass,
	}
}

// Compute summarizes a table.
//
// Every row counts toward the total; the percentage is germinated / total * 100. Both expected
// classes must be present: a table holding a single class is reported as ErrMissingClass
// rather than as a 0 or 100 percent result.
//
// Arguments:
//   - t: The tabulated detections of one image.
//   - imagePath: Path of the image; its file name gives the parent image.
//
// Returns:
//   - *Summary: Counts and percentage.
//   - error: ErrEmptyTable or ErrMissingClass.
func (c Calculator) Compute(t *table.Table, imagePath string) (*Summary, error) {
	if t == nil || len(t.Rows) == 0 {
		return nil, ErrEmptyTable
	}

	counts := t.Counts()
	germinated, ok := counts[c.GerminatedClass]
	if !ok {
		return nil, fmt.Errorf("%w: class %d", ErrMissingClass, c.GerminatedClass)
	}
	ungerminated, ok := counts[c.UngerminatedClass]
	if !ok {
		return nil, fmt.Errorf("%w: class %d", ErrMissingClass, c.UngerminatedClass)
	}

	total := len(t.Rows)
	return &Summary{
		GerminatedCount:   germinated,
		UngerminatedCount: ungerminated,
		TotalCount:        total,
		PercentViability:  float64(germinated) / float64(total) * 100,
		ParentImage:       util.ParentImage(imagePath),
		ImagePath:         imagePath,
	}, nil
}

// Aggregate combines the summaries of crops sharing a parent image.
//
// Counts are summed and the percentage recomputed from the sums; the result is ordered by
// parent image and carries no image path.
func Aggregate(summaries []Summary) []Summary {
	byParent := make(map[string]*Summary)
	for _, s := range summaries {
		agg, ok := byParent[s.ParentImage]
		if !ok {
			agg = &Summary{ParentImage: s.ParentImage}
			byParent[s.ParentImage] = agg
		}
		agg.GerminatedCount += s.GerminatedCount
		agg.UngerminatedCount += s.UngerminatedCount
		agg.TotalCount += s.TotalCount
	}

	out := make([]Summary, 0, len(byParent))
	for _, agg := range byParent {
		if agg.TotalCount > 0 {
			agg.PercentViability = float64(agg.GerminatedCount) / float64(agg.TotalCount) * 100
		}
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParentImage < out[j].ParentImage })

	return out
}
