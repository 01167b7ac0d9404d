package inference

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rawOutputs builds graph outputs with a capacity of 3 detections, 2 of them real.
func rawOutputs() Outputs {
	return Outputs{
		OutputNumDetections: NewOutput([]float32{2}, 1),
		OutputDetectionBoxes: NewOutput([]float32{
			0.1, 0.2, 0.5, 0.6,
			0.0, 0.0, 1.0, 1.0,
			0, 0, 0, 0,
		}, 1, 3, 4),
		OutputDetectionScores:  NewOutput([]float32{0.9, 0.4, 0}, 1, 3),
		OutputDetectionClasses: NewOutput([]float32{1, 2, 0}, 1, 3),
	}
}

// TestDecode verifies squeezing, casting and slicing to the real detection count.
//
// @example
// go test -v -run TestDecode
func TestDecode(t *testing.T) {
	res, err := Decode(rawOutputs(), image.Pt(100, 50), 0)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Count)
	assert.Equal(t, [][4]float32{{0.1, 0.2, 0.5, 0.6}, {0, 0, 1, 1}}, res.Boxes)
	assert.Equal(t, []float32{0.9, 0.4}, res.Scores)
	assert.Equal(t, []uint8{1, 2}, res.Classes)
	assert.False(t, res.HasMasks())
	assert.NoError(t, res.Validate())
}

func TestDecodeWithoutBatchDimension(t *testing.T) {
	out := Outputs{
		OutputNumDetections:    NewOutput([]float32{1}, 1),
		OutputDetectionBoxes:   NewOutput([]float32{0, 0, 0.5, 0.5}, 1, 4),
		OutputDetectionScores:  NewOutput([]float32{0.7}, 1),
		OutputDetectionClasses: NewOutput([]float32{2}, 1),
	}

	res, err := Decode(out, image.Pt(10, 10), 0)
	require.NoError(t, err)
	assert.Equal(t, []uint8{2}, res.Classes)
}

// TestDecodeCounts verifies slicing at the edges of the detection capacity.
//
// @example
// go test -v -run TestDecodeCounts
func TestDecodeCounts(t *testing.T) {
	tests := []struct {
		name    string
		count   float32
		scores  []float32
		classes []uint8
	}{
		{name: "none", count: 0, scores: []float32{}, classes: []uint8{}},
		{name: "single", count: 1, scores: []float32{0.9}, classes: []uint8{1}},
		{name: "full", count: 3, scores: []float32{0.9, 0.4, 0}, classes: []uint8{1, 2, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := rawOutputs()
			out[OutputNumDetections] = NewOutput([]float32{tt.count}, 1)

			res, err := Decode(out, image.Pt(10, 10), 0)
			require.NoError(t, err)
			assert.Equal(t, int(tt.count), res.Count)
			assert.Equal(t, tt.scores, res.Scores)
			assert.Equal(t, tt.classes, res.Classes)
			assert.Len(t, res.Boxes, int(tt.count))

			// The raw outputs keep their batch shape.
			assert.Equal(t, []int{1, 3}, []int(out[OutputDetectionScores].Shape()))
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(Outputs)
		is     error
	}{
		{
			name:   "missing scores",
			mutate: func(o Outputs) { delete(o, OutputDetectionScores) },
			is:     ErrMissingOutput,
		},
		{
			name:   "count above capacity",
			mutate: func(o Outputs) { o[OutputNumDetections] = NewOutput([]float32{4}, 1) },
		},
		{
			name:   "mismatched scores",
			mutate: func(o Outputs) { o[OutputDetectionScores] = NewOutput([]float32{0.9, 0.4}, 1, 2) },
		},
		{
			name:   "boxes with five coordinates",
			mutate: func(o Outputs) { o[OutputDetectionBoxes] = NewOutput(make([]float32, 15), 1, 3, 5) },
		},
		{
			name:   "batch of two",
			mutate: func(o Outputs) { o[OutputDetectionScores] = NewOutput(make([]float32, 6), 2, 3) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := rawOutputs()
			tt.mutate(out)

			_, err := Decode(out, image.Pt(10, 10), 0)
			require.Error(t, err)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
		})
	}
}

// TestDecodeMasks verifies masks are reframed into image coordinates and binarized.
func TestDecodeMasks(t *testing.T) {
	out := rawOutputs()
	// Two 2x2 masks per capacity slot; the first is fully on, the second fully off.
	out[OutputDetectionMasks] = NewOutput([]float32{
		1, 1, 1, 1,
		0.2, 0.2, 0.2, 0.2,
		0, 0, 0, 0,
	}, 1, 3, 2, 2)

	res, err := Decode(out, image.Pt(100, 50), 0.5)
	require.NoError(t, err)
	require.Len(t, res.Masks, 2)

	first := res.Masks[0]
	assert.Equal(t, image.Rect(0, 0, 100, 50), first.Bounds())
	// Box 0 covers x in [20,60) and y in [5,25).
	assert.Equal(t, uint8(1), first.GrayAt(40, 15).Y)
	assert.Equal(t, uint8(1), first.GrayAt(20, 5).Y)
	assert.Equal(t, uint8(0), first.GrayAt(10, 15).Y)
	assert.Equal(t, uint8(0), first.GrayAt(40, 30).Y)

	for _, v := range res.Masks[1].Pix {
		assert.Equal(t, uint8(0), v)
	}
}

func TestReframeMaskEmptyBox(t *testing.T) {
	mask := ReframeMask([]float32{1}, 1, 1, [4]float32{0.5, 0.5, 0.5, 0.5}, image.Pt(8, 8), 0.5)
	assert.Equal(t, image.Rect(0, 0, 8, 8), mask.Bounds())
	for _, v := range mask.Pix {
		assert.Equal(t, uint8(0), v)
	}
}

func TestImageTensorData(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	img.Set(1, 0, color.NRGBA{R: 40, G: 50, B: 60, A: 255})

	data, size := ImageTensorData(img, image.Point{})
	assert.Equal(t, image.Pt(2, 1), size)
	assert.Equal(t, []uint8{10, 20, 30, 40, 50, 60}, data)

	data, size = ImageTensorData(img, image.Pt(4, 3))
	assert.Equal(t, image.Pt(4, 3), size)
	assert.Len(t, data, 4*3*3)
}

type fakeRunner struct {
	out Outputs
	err error
}

func (f fakeRunner) Run(ctx context.Context, _ image.Image) (Outputs, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.out, f.err
}

func TestDetect(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 50))

	res, err := Detect(context.Background(), fakeRunner{out: rawOutputs()}, img, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)

	boom := errors.New("boom")
	_, err = Detect(context.Background(), fakeRunner{err: boom}, img, Options{})
	assert.ErrorIs(t, err, boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Detect(ctx, fakeRunner{out: rawOutputs()}, img, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestValidate(t *testing.T) {
	res := &DetectionResult{Count: 2, Boxes: make([][4]float32, 2), Scores: make([]float32, 2), Classes: make([]uint8, 1)}
	assert.Error(t, res.Validate())

	res.Classes = append(res.Classes, 1)
	assert.NoError(t, res.Validate())

	res.Masks = []*image.Gray{image.NewGray(image.Rect(0, 0, 1, 1))}
	assert.Error(t, res.Validate())
}

func TestResolveOutputs(t *testing.T) {
	graph := []string{"num_detections:0", "detection_boxes:0", "detection_scores:0", "detection_classes:0"}

	names, keys, err := resolveOutputs(DefaultOutputs, graph)
	require.NoError(t, err)
	assert.Equal(t, graph, names)
	assert.Equal(t, RequiredOutputs, keys)

	_, _, err = resolveOutputs(DefaultOutputs, graph[:3])
	assert.ErrorIs(t, err, ErrMissingOutput)

	_, _, err = resolveOutputs([]string{OutputDetectionBoxes}, graph)
	assert.ErrorIs(t, err, ErrMissingOutput)

	name, ok := resolveName("image_tensor", []string{"image_tensor:0"})
	assert.True(t, ok)
	assert.Equal(t, "image_tensor:0", name)
}
