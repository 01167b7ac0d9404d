package images

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// ImageFormat represents supported image formats
type ImageFormat string

// ImageFormat constants
const (
	// FormatJPEG is the JPEG image format.
	FormatJPEG ImageFormat = "jpeg"
	// FormatWebP is the WebP image format.
	FormatWebP ImageFormat = "webp"
	// FormatPNG is the PNG image format.
	FormatPNG ImageFormat = "png"
)

// ParseFormat maps a user supplied format name ("jpg", "jpeg", "png", "webp") to an ImageFormat.
func ParseFormat(name string) (ImageFormat, error) {
	switch strings.ToLower(strings.TrimPrefix(name, ".")) {
	case "jpg", "jpeg":
		return FormatJPEG, nil
	case "png":
		return FormatPNG, nil
	case "webp":
		return FormatWebP, nil
	default:
		return "", errors.Errorf("unsupported image format %q", name)
	}
}

// FormatFromPath derives the format from the extension of path.
func FormatFromPath(path string) (ImageFormat, error) {
	return ParseFormat(filepath.Ext(path))
}

// Ext returns the file extension, including the dot, used when writing the format.
func (f ImageFormat) Ext() string {
	switch f {
	case FormatPNG:
		return ".png"
	case FormatWebP:
		return ".webp"
	default:
		return ".jpg"
	}
}

// MIMEType returns the media type of the format.
func (f ImageFormat) MIMEType() string {
	switch f {
	case FormatPNG:
		return "image/png"
	case FormatWebP:
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
