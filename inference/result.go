package inference

import (
	"fmt"
	"image"
)

// DetectionResult is the decoded output of a detection model for one image.
//
// Boxes are (ymin, xmin, ymax, xmax) normalized to [0, 1] of the image size. Masks, when the
// model produces them, are full image binary masks holding 0 or 1.
type DetectionResult struct {
	Count   int           `json:"num_detections"`
	Boxes   [][4]float32  `json:"detection_boxes"`
	Scores  []float32     `json:"detection_scores"`
	Classes []uint8       `json:"detection_classes"`
	Masks   []*image.Gray `json:"-"`
}

// HasMasks reports whether instance masks were decoded.
func (r *DetectionResult) HasMasks() bool {
	return len(r.Masks) > 0
}

// Validate checks that every per detection sequence holds Count entries.
func (r *DetectionResult) Validate() error {
	if r.Count < 0 {
		return fmt.Errorf("negative detection count %d", r.Count)
	}
	if len(r.Boxes) != r.Count || len(r.Scores) != r.Count || len(r.Classes) != r.Count {
		return fmt.Errorf(
			"detection count %d does not match boxes=%d scores=%d classes=%d",
			r.Count, len(r.Boxes), len(r.Scores), len(r.Classes),
		)
	}
	if r.Masks != nil && len(r.Masks) != r.Count {
		return fmt.Errorf("detection count %d does not match masks=%d", r.Count, len(r.Masks))
	}
	return nil
}
