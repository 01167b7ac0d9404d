// Package annotation writes detections as LabelImg (Pascal VOC) XML.
package annotation

import (
	"encoding/xml"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"

	"github.com/nvr-ai/seedvision/inference"
	"github.com/nvr-ai/seedvision/models"
	"github.com/nvr-ai/seedvision/table"
	"github.com/nvr-ai/seedvision/util"
	"github.com/pkg/errors"
)

// Fixed values of the labeling tool schema.
const (
	PoseUnspecified = "Unspecified"
	indent          = "    "
)

// Rounding selects how pixel coordinates become integers.
type Rounding int

const (
	// Truncate drops the fractional part.
	Truncate Rounding = iota
	// Nearest rounds half away from zero.
	Nearest
)

// Annotation is the root element of a LabelImg file.
type Annotation struct {
	XMLName  xml.Name `xml:"annotation"`
	Filename string   `xml:"filename"`
	Size     *Size    `xml:"size,omitempty"`
	Objects  []Object `xml:"object"`
}

// Size is the optional image size element.
type Size struct {
	Width  int `xml:"width"`
	Height int `xml:"height"`
	Depth  int `xml:"depth"`
}

// Object is one labeled box.
type Object struct {
	Name      string `xml:"name"`
	Pose      string `xml:"pose"`
	Truncated int    `xml:"truncated"`
	Difficult int    `xml:"difficult"`
	BndBox    BndBox `xml:"bndbox"`
}

// BndBox holds integer pixel corners.
type BndBox struct {
	XMin int `xml:"xmin"`
	YMin int `xml:"ymin"`
	XMax int `xml:"xmax"`
	YMax int `xml:"ymax"`
}

// Options controls the export.
type Options struct {
	// Threshold drops detections whose score is not strictly greater.
	Threshold float32
	// Labels names classes; nil writes the decimal class id.
	Labels *models.OutputClassSet
	// Rounding of pixel coordinates.
	Rounding Rounding
	// IncludeSize adds the <size> element.
	IncludeSize bool
}

// DefaultOptions keeps detections above 0.5 and truncates coordinates.
func DefaultOptions() Options {
	return Options{Threshold: table.DefaultThreshold}
}

// New builds an annotation for the rows of t. The rows must be measured from the top edge;
// flipped tables are converted back.
func New(filename string, t *table.Table, opts Options) *Annotation {
	a := &Annotation{
		Filename: filename,
		Objects:  make([]Object, 0, len(t.Rows)),
	}
	if opts.IncludeSize && t.Width > 0 && t.Height > 0 {
		a.Size = &Size{Width: t.Width, Height: t.Height, Depth: 3}
	}

	for _, r := range t.Rows {
		r = t.Unflip(r)
		a.Objects = append(a.Objects, Object{
			Name: r.Label,
			Pose: PoseUnspecified,
			BndBox: BndBox{
				XMin: toInt(r.XMin, opts.Rounding),
				YMin: toInt(r.YMin, opts.Rounding),
				XMax: toInt(r.XMax, opts.Rounding),
				YMax: toInt(r.YMax, opts.Rounding),
			},
		})
	}

	return a
}

func toInt(v float64, rounding Rounding) int {
	if rounding == Nearest {
		return int(math.Round(v))
	}
	return int(v)
}

// Encode writes the annotation indented by four spaces, without an XML declaration.
func (a *Annotation) Encode(w io.Writer) error {
	enc := xml.NewEncoder(w)
	enc.Indent("", indent)
	if err := enc.Encode(a); err != nil {
		return errors.Wrap(err, "error encoding annotation")
	}
	if err := enc.Close(); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// Write stores the annotation at path, replacing any existing file.
func (a *Annotation) Write(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "error creating %s", path)
	}
	defer f.Close()

	if err := a.Encode(f); err != nil {
		return errors.Wrapf(err, "error writing %s", path)
	}
	return f.Close()
}

// Decode reads an annotation.
func Decode(r io.Reader) (*Annotation, error) {
	var a Annotation
	if err := xml.NewDecoder(r).Decode(&a); err != nil {
		return nil, errors.Wrap(err, "error decoding annotation")
	}
	return &a, nil
}

// OutputPath returns where Export writes the annotation of imagePath.
func OutputPath(imagePath, outDir string) string {
	return filepath.Join(outDir, util.ImageNumber(imagePath)+".xml")
}

// Export tabulates res against the image at imagePath, without flipping, and writes the
// annotation to <outDir>/<image name>.xml.
//
// Arguments:
//   - res: The decoded detections.
//   - imagePath: The source image; read for its dimensions.
//   - outDir: Destination directory; "" is the working directory.
//   - opts: Threshold, labels and rounding.
//
// Returns:
//   - string: The path written.
//   - error: An error if the image cannot be read or the file cannot be written.
func Export(res *inference.DetectionResult, imagePath, outDir string, opts Options) (string, error) {
	t, err := table.FromResultPath(res, imagePath, table.Options{
		Threshold: opts.Threshold,
		Labels:    opts.Labels,
	})
	if err != nil {
		return "", err
	}

	return ExportTable(t, imagePath, outDir, opts)
}

// ExportTable writes an already tabulated result.
func ExportTable(t *table.Table, imagePath, outDir string, opts Options) (string, error) {
	if outDir != "" {
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return "", errors.Wrapf(err, "error creating %s", outDir)
		}
	}

	path := OutputPath(imagePath, outDir)
	if err := New(filepath.Base(imagePath), t, opts).Write(path); err != nil {
		return "", err
	}

	log.Printf("📋 xml out: %s", path)
	return path, nil
}
