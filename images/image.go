// Package images - Image loading and saving utilities.
package images

import (
	"bytes"
	"encoding/base64"
	"image"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"io"
	"os"
	"path/filepath"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// Image describes an image file on disk.
type Image struct {
	// The path of the image file.
	Path string `json:"path" yaml:"path"`
	// The format of the image.
	Format ImageFormat `json:"format" yaml:"format"`
	// The width of the image.
	Width int `json:"width" yaml:"width"`
	// The height of the image.
	Height int `json:"height" yaml:"height"`
}

// Size returns the image dimensions as a point.
func (i Image) Size() image.Point {
	return image.Point{X: i.Width, Y: i.Height}
}

// Describe reads the header of the image at path without decoding the pixels.
//
// Arguments:
// - path: Path of the image file.
//
// Returns:
// - *Image: The format and dimensions of the image.
// - error: Error if the file cannot be opened or is not a supported image.
func Describe(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "error opening image %s", path)
	}
	defer f.Close()

	cfg, name, err := image.DecodeConfig(f)
	if err != nil {
		return nil, errors.Wrapf(err, "error decoding image header %s", path)
	}

	format, err := ParseFormat(name)
	if err != nil {
		return nil, err
	}

	return &Image{
		Path:   path,
		Format: format,
		Width:  cfg.Width,
		Height: cfg.Height,
	}, nil
}

// Dimensions returns the width and height of the image at path.
func Dimensions(path string) (image.Point, error) {
	info, err := Describe(path)
	if err != nil {
		return image.Point{}, err
	}
	return info.Size(), nil
}

// Load decodes the image at path.
func Load(path string) (image.Image, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "error loading image %s", path)
	}
	return img, nil
}

// Save writes img to path in the given format, creating the parent directory when needed.
//
// Arguments:
// - img: The image to write.
// - path: Destination path; the extension is not inspected.
// - format: Output encoding.
// - quality: JPEG/WebP quality in 1..100.
//
// Returns:
// - error: Error if the directory cannot be created or encoding fails.
func Save(img image.Image, path string, format ImageFormat, quality int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "error creating directory for %s", path)
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "error creating %s", path)
	}
	defer f.Close()

	if err := Encode(f, img, format, quality); err != nil {
		return errors.Wrapf(err, "error writing %s", path)
	}

	return f.Close()
}

// Encode writes img to w in the given format.
func Encode(w io.Writer, img image.Image, format ImageFormat, quality int) error {
	switch format {
	case FormatWebP:
		return webp.Encode(w, img, &webp.Options{Quality: float32(quality)})
	case FormatPNG:
		return imaging.Encode(w, img, imaging.PNG)
	default:
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
	}
}

// DataURI encodes img as a base64 data URI suitable for embedding in HTML or figure JSON.
func DataURI(img image.Image, format ImageFormat, quality int) (string, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, img, format, quality); err != nil {
		return "", errors.Wrap(err, "error encoding data uri")
	}
	return "data:" + format.MIMEType() + ";base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
