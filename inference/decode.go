package inference

import (
	"fmt"
	"image"
	"image/color"

	"github.com/chewxy/math32"
	"github.com/nfnt/resize"
)

// DefaultMaskThreshold binarizes reframed mask probabilities.
const DefaultMaskThreshold float32 = 0.5

// Decode converts the raw outputs of one graph run into a DetectionResult.
//
// The batch dimension is squeezed, the detection count is cast to int and the classes to
// uint8, and every per detection sequence is cut to the real count. When the graph produced
// instance masks they are reframed from box coordinates to full image coordinates and
// binarized at maskThreshold.
//
// Arguments:
//   - out: Named outputs with the leading batch dimension of size 1.
//   - size: Width and height of the source image, used to reframe masks.
//   - maskThreshold: Probability above which a mask pixel is set; 0 selects 0.5.
//
// Returns:
//   - *DetectionResult: The decoded result, satisfying Validate.
//   - error: An error if a required output is missing or the shapes disagree.
func Decode(out Outputs, size image.Point, maskThreshold float32) (*DetectionResult, error) {
	if maskThreshold <= 0 {
		maskThreshold = DefaultMaskThreshold
	}

	num, err := out.squeezed(OutputNumDetections, 0)
	if err != nil {
		return nil, err
	}
	count := int(scalar(num))

	boxesT, err := out.squeezed(OutputDetectionBoxes, 2)
	if err != nil {
		return nil, err
	}
	if boxesT.Shape()[1] != 4 {
		return nil, fmt.Errorf("%s: expected 4 coordinates per box, got shape %v", OutputDetectionBoxes, boxesT.Shape())
	}
	scoresT, err := out.squeezed(OutputDetectionScores, 1)
	if err != nil {
		return nil, err
	}
	classesT, err := out.squeezed(OutputDetectionClasses, 1)
	if err != nil {
		return nil, err
	}

	capacity := boxesT.Shape()[0]
	if scoresT.Shape()[0] != capacity || classesT.Shape()[0] != capacity {
		return nil, fmt.Errorf(
			"detection outputs disagree: boxes=%d scores=%d classes=%d",
			capacity, scoresT.Shape()[0], classesT.Shape()[0],
		)
	}
	if count < 0 || count > capacity {
		return nil, fmt.Errorf("detection count %d outside [0, %d]", count, capacity)
	}

	boxes, err := head(boxesT, count)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", OutputDetectionBoxes, err)
	}
	scores, err := head(scoresT, count)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", OutputDetectionScores, err)
	}
	classes, err := head(classesT, count)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", OutputDetectionClasses, err)
	}

	res := &DetectionResult{
		Count:   count,
		Boxes:   make([][4]float32, count),
		Scores:  scores,
		Classes: make([]uint8, count),
	}
	for i := 0; i < count; i++ {
		copy(res.Boxes[i][:], boxes[i*4:i*4+4])
		res.Classes[i] = uint8(classes[i])
	}

	if out.Has(OutputDetectionMasks) {
		masksT, err := out.squeezed(OutputDetectionMasks, 3)
		if err != nil {
			return nil, err
		}
		maskShape := masksT.Shape()
		if maskShape[0] < count {
			return nil, fmt.Errorf("%s: %d masks for %d detections", OutputDetectionMasks, maskShape[0], count)
		}
		masks, err := head(masksT, count)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", OutputDetectionMasks, err)
		}
		mh, mw := maskShape[1], maskShape[2]
		res.Masks = make([]*image.Gray, count)
		for i := 0; i < count; i++ {
			res.Masks[i] = ReframeMask(masks[i*mh*mw:(i+1)*mh*mw], mw, mh, res.Boxes[i], size, maskThreshold)
		}
	}

	return res, res.Validate()
}

// ReframeMask places a box relative mask into a full image mask.
//
// The mw x mh probability grid is resized bilinearly to the pixel extent of box (ymin, xmin,
// ymax, xmax normalized), pasted at the box position, clipped to the image, and binarized so
// that pixels above threshold hold 1 and all others 0.
func ReframeMask(mask []float32, mw, mh int, box [4]float32, size image.Point, threshold float32) *image.Gray {
	out := image.NewGray(image.Rect(0, 0, size.X, size.Y))

	top := int(math32.Floor(box[0] * float32(size.Y)))
	left := int(math32.Floor(box[1] * float32(size.X)))
	bottom := int(math32.Ceil(box[2] * float32(size.Y)))
	right := int(math32.Ceil(box[3] * float32(size.X)))
	bw, bh := right-left, bottom-top
	if bw <= 0 || bh <= 0 || mw <= 0 || mh <= 0 {
		return out
	}

	src := image.NewGray16(image.Rect(0, 0, mw, mh))
	for y := 0; y < mh; y++ {
		for x := 0; x < mw; x++ {
			p := math32.Max(0, math32.Min(1, mask[y*mw+x]))
			src.SetGray16(x, y, color.Gray16{Y: uint16(math32.Round(p * 0xffff))})
		}
	}

	scaled := resize.Resize(uint(bw), uint(bh), src, resize.Bilinear)
	level := uint32(threshold * 0xffff)
	bounds := out.Bounds()
	for y := 0; y < bh; y++ {
		for x := 0; x < bw; x++ {
			pt := image.Pt(left+x, top+y)
			if !pt.In(bounds) {
				continue
			}
			v, _, _, _ := scaled.At(scaled.Bounds().Min.X+x, scaled.Bounds().Min.Y+y).RGBA()
			if v > level {
				out.SetGray(pt.X, pt.Y, color.Gray{Y: 1})
			}
		}
	}

	return out
}
