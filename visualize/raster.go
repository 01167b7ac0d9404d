package visualize

import (
	"fmt"
	"image"
	"math"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/nvr-ai/seedvision/images"
	"github.com/nvr-ai/seedvision/table"
	"github.com/nvr-ai/seedvision/util"
	"gocv.io/x/gocv"
)

// DefaultResultsDir receives rendered rasters.
const DefaultResultsDir = "results"

// RasterOptions controls raster rendering.
type RasterOptions struct {
	// Scale resizes the image before drawing; 0 means 1.
	Scale float64
	// Palette of box colors; nil selects DefaultPalette.
	Palette []string
	// Stroke is the outline width in pixels; 0 derives it from the image size.
	Stroke int
	// Format of the saved file; empty selects JPEG.
	Format images.ImageFormat
	// Quality for JPEG and WebP output; 0 selects 90.
	Quality int
}

// Render draws the boxes of t over a copy of img with gocv. The result is opaque.
//
// Flipped tables are converted back to top-down coordinates first, so the same table drives
// both the figure and the raster.
func Render(img image.Image, t *table.Table, opts RasterOptions) (*image.NRGBA, error) {
	colored, err := AssignColors(t, opts.Palette)
	if err != nil {
		return nil, err
	}

	scale := opts.Scale
	if scale <= 0 {
		scale = 1
	}

	dst := imaging.Clone(img)
	if scale != 1 {
		w := int(math.Round(float64(dst.Bounds().Dx()) * scale))
		h := int(math.Round(float64(dst.Bounds().Dy()) * scale))
		dst = imaging.Resize(dst, w, h, imaging.Lanczos)
	}

	stroke := opts.Stroke
	if stroke <= 0 {
		b := dst.Bounds()
		stroke = int(math.Max(2, 0.004*math.Min(float64(b.Dx()), float64(b.Dy()))))
	}

	mat, err := gocv.ImageToMatRGB(dst)
	if err != nil {
		return nil, fmt.Errorf("error converting image for drawing: %w", err)
	}
	defer mat.Close()

	for _, r := range colored.Rows {
		r = colored.Unflip(r)
		rect := image.Rect(
			int(math.Round(r.XMin*scale)),
			int(math.Round(r.YMin*scale)),
			int(math.Round(r.XMax*scale)),
			int(math.Round(r.YMax*scale)),
		)
		if rect.Empty() {
			continue
		}
		gocv.Rectangle(&mat, rect, rgba(r.Color), stroke)
	}

	out, err := mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("error converting drawn image: %w", err)
	}

	return imaging.Clone(out), nil
}

// RasterPath returns results/<image name>_bbox.<ext> under dir.
func RasterPath(imagePath, dir string, format images.ImageFormat) string {
	if format == "" {
		format = images.FormatJPEG
	}
	return filepath.Join(dir, util.ImageNumber(imagePath)+"_bbox"+format.Ext())
}

// SaveRaster renders t over img and writes it next to the other results.
//
// Arguments:
//   - img: The decoded source image.
//   - t: The tabulated detections; t.Image names the output.
//   - dir: Results directory, created when missing; "" selects DefaultResultsDir.
//   - opts: Rendering and encoding options.
//
// Returns:
//   - string: The path written.
//   - error: An error if rendering or writing fails.
func SaveRaster(img image.Image, t *table.Table, dir string, opts RasterOptions) (string, error) {
	if dir == "" {
		dir = DefaultResultsDir
	}
	if opts.Quality <= 0 {
		opts.Quality = 90
	}

	out, err := Render(img, t, opts)
	if err != nil {
		return "", err
	}

	path := RasterPath(t.Image, dir, opts.Format)
	format := opts.Format
	if format == "" {
		format = images.FormatJPEG
	}
	if err := images.Save(out, path, format, opts.Quality); err != nil {
		return "", err
	}

	return path, nil
}
