package images

import (
	"image"
	"image/color"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getTestImage(w, h int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: 200, G: 40, B: 10, A: 255})
		}
	}
	return img
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		name    string
		want    ImageFormat
		wantErr bool
	}{
		{name: "jpg", want: FormatJPEG},
		{name: ".JPEG", want: FormatJPEG},
		{name: "png", want: FormatPNG},
		{name: "webp", want: FormatWebP},
		{name: "gif", wantErr: true},
		{name: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFormat(tt.name)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestSaveDescribe writes each supported format and reads the header back.
//
// @example
// go test -v -run TestSaveDescribe
func TestSaveDescribe(t *testing.T) {
	dir := t.TempDir()
	src := getTestImage(64, 48)

	for _, format := range []ImageFormat{FormatJPEG, FormatPNG, FormatWebP} {
		t.Run(string(format), func(t *testing.T) {
			path := filepath.Join(dir, "nested", "plate"+format.Ext())
			require.NoError(t, Save(src, path, format, 90))

			info, err := Describe(path)
			require.NoError(t, err)
			assert.Equal(t, format, info.Format)
			assert.Equal(t, image.Point{X: 64, Y: 48}, info.Size())

			img, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, 64, img.Bounds().Dx())
			assert.Equal(t, 48, img.Bounds().Dy())
		})
	}
}

func TestDimensionsMissingFile(t *testing.T) {
	_, err := Dimensions(filepath.Join(t.TempDir(), "missing.jpg"))
	assert.Error(t, err)
}

func TestDataURI(t *testing.T) {
	uri, err := DataURI(getTestImage(4, 4), FormatPNG, 0)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(uri, "data:image/png;base64,"))
}
