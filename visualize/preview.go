package visualize

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// Preview shows img in a window until a key is pressed or delay milliseconds pass. A delay of
// 0 waits for a key.
func Preview(title string, img image.Image, delay int) error {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return fmt.Errorf("error converting image for preview: %w", err)
	}
	defer mat.Close()

	window := gocv.NewWindow(title)
	defer window.Close()

	window.IMShow(mat)
	window.WaitKey(delay)

	return nil
}
