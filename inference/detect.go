// Package inference - Detection model sessions and output decoding.
package inference

import (
	"context"
	"image"
)

// Runner runs a detection graph once over a single image.
type Runner interface {
	Run(ctx context.Context, img image.Image) (Outputs, error)
}

// Options tunes how raw outputs are decoded.
type Options struct {
	// MaskThreshold binarizes reframed masks; 0 selects DefaultMaskThreshold.
	MaskThreshold float32
}

// Detect runs the model on img and decodes the result in the coordinate space of img.
func Detect(ctx context.Context, runner Runner, img image.Image, opts Options) (*DetectionResult, error) {
	out, err := runner.Run(ctx, img)
	if err != nil {
		return nil, err
	}
	return Decode(out, img.Bounds().Size(), opts.MaskThreshold)
}
