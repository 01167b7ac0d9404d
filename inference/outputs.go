package inference

import (
	"errors"
	"fmt"

	"gorgonia.org/tensor"
)

// Tensor names of a TensorFlow object detection API export.
const (
	InputImageTensor       = "image_tensor"
	OutputNumDetections    = "num_detections"
	OutputDetectionBoxes   = "detection_boxes"
	OutputDetectionScores  = "detection_scores"
	OutputDetectionClasses = "detection_classes"
	OutputDetectionMasks   = "detection_masks"
)

// RequiredOutputs must be produced by every detection graph; masks are optional.
var RequiredOutputs = []string{
	OutputNumDetections,
	OutputDetectionBoxes,
	OutputDetectionScores,
	OutputDetectionClasses,
}

// DefaultOutputs is the full set of outputs requested from a graph, when present.
var DefaultOutputs = append(append([]string{}, RequiredOutputs...), OutputDetectionMasks)

// ErrMissingOutput is returned when a required named output is absent.
var ErrMissingOutput = errors.New("missing model output")

// Outputs holds the raw named outputs of one graph run, batch dimension included.
type Outputs map[string]*tensor.Dense

// NewOutput wraps data as a dense float32 tensor of the given shape.
func NewOutput(data []float32, shape ...int) *tensor.Dense {
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
}

// Has reports whether the named output is present.
func (o Outputs) Has(name string) bool {
	t, ok := o[name]
	return ok && t != nil
}

// squeezed returns a view of a named float32 output with the leading batch dimension of size
// 1 reshaped away. The returned tensor has rank dims and shares data with the output.
func (o Outputs) squeezed(name string, dims int) (*tensor.Dense, error) {
	t, ok := o[name]
	if !ok || t == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingOutput, name)
	}
	if t.Dtype() != tensor.Float32 {
		return nil, fmt.Errorf("%s: expected float32 data, got %v", name, t.Dtype())
	}

	shape := t.Shape()
	if len(shape) == dims+1 && dims > 0 {
		if shape[0] != 1 {
			return nil, fmt.Errorf("%s: expected batch size 1, got shape %v", name, shape)
		}
		view := t.ShallowClone()
		if err := view.Reshape(shape[1:]...); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return view, nil
	}
	if dims == 0 && shape.TotalSize() == 1 {
		return t, nil
	}
	if len(shape) != dims {
		return nil, fmt.Errorf("%s: expected rank %d, got shape %v", name, dims, shape)
	}

	return t, nil
}

// head returns the data of the first n entries along the first axis of t.
func head(t *tensor.Dense, n int) ([]float32, error) {
	if n == 0 {
		return []float32{}, nil
	}

	view, err := t.Slice(tensor.S(0, n))
	if err != nil {
		return nil, err
	}

	// A single element view collapses to a scalar shape and is read directly.
	var raw interface{}
	if view.Shape().IsScalar() {
		raw = view.Data()
	} else {
		raw = view.Materialize().Data()
	}

	switch data := raw.(type) {
	case []float32:
		return data, nil
	case float32:
		return []float32{data}, nil
	default:
		return nil, fmt.Errorf("expected float32 data, got %T", data)
	}
}

// scalar returns the single value of a one element tensor.
func scalar(t *tensor.Dense) float32 {
	switch data := t.Data().(type) {
	case []float32:
		return data[0]
	case float32:
		return data
	}
	return 0
}
