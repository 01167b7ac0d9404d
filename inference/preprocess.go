package inference

import (
	"image"

	"github.com/nfnt/resize"
)

// ImageTensorData flattens an image into the uint8 NHWC layout expected by image_tensor.
//
// Detection exports accept any spatial size, so the image is fed at its native size unless a
// non zero shape is given, in which case it is resized with Lanczos3 first.
//
// Arguments:
//   - img: The image to prepare.
//   - shape: Target width and height, or the zero point to keep the native size.
//
// Returns:
//   - []uint8: Row major RGB bytes, height*width*3 long.
//   - image.Point: The width and height actually encoded.
func ImageTensorData(img image.Image, shape image.Point) ([]uint8, image.Point) {
	if shape.X > 0 && shape.Y > 0 && shape != img.Bounds().Size() {
		img = resize.Resize(uint(shape.X), uint(shape.Y), img, resize.Lanczos3)
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	data := make([]uint8, 0, w*h*3)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			data = append(data, uint8(r>>8), uint8(g>>8), uint8(bl>>8))
		}
	}

	return data, image.Point{X: w, Y: h}
}
