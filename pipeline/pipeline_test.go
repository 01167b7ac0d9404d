package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/nvr-ai/seedvision/annotation"
	"github.com/nvr-ai/seedvision/config"
	"github.com/nvr-ai/seedvision/images"
	"github.com/nvr-ai/seedvision/inference"
	"github.com/nvr-ai/seedvision/profiler"
	"github.com/nvr-ai/seedvision/util"
	"github.com/nvr-ai/seedvision/viability"
	"github.com/nvr-ai/seedvision/visualize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner returns one detection per entry of classes for every image. Boxes and scores
// cycle over three fixed detections unless scores is set.
type fakeRunner struct {
	mu      sync.Mutex
	classes []float32
	scores  []float32
	calls   int
	err     error
}

var (
	fakeBoxes = [][4]float32{
		{0.1, 0.1, 0.5, 0.5},
		{0.5, 0.5, 0.9, 0.9},
		{0.0, 0.0, 0.2, 0.2},
	}
	fakeScores = []float32{0.9, 0.8, 0.3}
)

func (f *fakeRunner) Run(ctx context.Context, _ image.Image) (inference.Outputs, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}

	n := len(f.classes)
	boxes := make([]float32, 0, n*4)
	scores := make([]float32, n)
	for i := 0; i < n; i++ {
		boxes = append(boxes, fakeBoxes[i%len(fakeBoxes)][:]...)
		scores[i] = fakeScores[i%len(fakeScores)]
		if f.scores != nil {
			scores[i] = f.scores[i]
		}
	}

	return inference.Outputs{
		inference.OutputNumDetections:    inference.NewOutput([]float32{float32(n)}, 1),
		inference.OutputDetectionBoxes:   inference.NewOutput(boxes, 1, n, 4),
		inference.OutputDetectionScores:  inference.NewOutput(scores, 1, n),
		inference.OutputDetectionClasses: inference.NewOutput(append([]float32{}, f.classes...), 1, n),
	}, nil
}

func writeImage(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, images.Save(image.NewNRGBA(image.Rect(0, 0, 100, 50)), path, images.FormatPNG, 0))
	return path
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()

	cfg := config.Default()
	cfg.Model.ModelPath = "model.onnx"
	cfg.Input.ImageDir = filepath.Join(root, "plates")
	cfg.Output.ResultsDir = filepath.Join(root, "results")
	cfg.Output.XMLDir = filepath.Join(root, "xml")
	require.NoError(t, os.MkdirAll(cfg.Input.ImageDir, 0o755))
	require.NoError(t, cfg.Validate())

	return cfg
}

// TestRun verifies a directory run writes every artifact and skips unreadable images.
//
// @example
// go test -v -run TestRun
func TestRun(t *testing.T) {
	cfg := testConfig(t)
	cfg.Output.Raster = true
	writeImage(t, cfg.Input.ImageDir, "plate1_1.png")
	writeImage(t, cfg.Input.ImageDir, "plate1_2.png")
	broken := filepath.Join(cfg.Input.ImageDir, "plate2_1.jpg")
	require.NoError(t, os.WriteFile(broken, []byte("not a jpeg"), 0o644))

	runner := &fakeRunner{classes: []float32{1, 2, 2}}
	prof := profiler.New()
	p, err := New(cfg, runner, prof)
	require.NoError(t, err)

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Processed())
	require.Contains(t, report.Failed, broken)
	assert.Equal(t, 2, runner.calls)

	require.Len(t, report.Summaries, 2)
	s := report.Summaries[0]
	assert.Equal(t, viability.Summary{
		GerminatedCount:   1,
		UngerminatedCount: 1,
		TotalCount:        2,
		PercentViability:  50,
		ParentImage:       "plate1",
		ImagePath:         filepath.Join(cfg.Input.ImageDir, "plate1_1.png"),
	}, s)
	assert.Equal(t, []viability.Summary{{
		GerminatedCount: 2, UngerminatedCount: 2, TotalCount: 4, PercentViability: 50, ParentImage: "plate1",
	}}, report.Parents)

	first := report.Images[0]
	require.Len(t, first.Table.Rows, 2)
	assert.True(t, first.Table.Flipped)
	assert.Equal(t, filepath.Join(cfg.Output.XMLDir, "plate1_1.xml"), first.XMLPath)
	assert.Equal(t, filepath.Join(cfg.Output.ResultsDir, "plate1_1_bbox.json"), first.FigurePath)
	assert.Equal(t, filepath.Join(cfg.Output.ResultsDir, "plate1_1_bbox.html"), first.HTMLPath)
	assert.Equal(t, filepath.Join(cfg.Output.ResultsDir, "plate1_1_bbox.jpg"), first.RasterPath)

	f, err := os.Open(first.XMLPath)
	require.NoError(t, err)
	defer f.Close()
	ann, err := annotation.Decode(f)
	require.NoError(t, err)
	require.Len(t, ann.Objects, 2)
	assert.Equal(t, "plate1_1.png", ann.Filename)
	assert.Equal(t, annotation.BndBox{XMin: 10, YMin: 5, XMax: 50, YMax: 25}, ann.Objects[0].BndBox)

	raw, err := os.ReadFile(filepath.Join(cfg.Output.ResultsDir, ReportJSON))
	require.NoError(t, err)
	var written []viability.Summary
	require.NoError(t, json.Unmarshal(raw, &written))
	assert.Equal(t, report.Summaries, written)
	assert.FileExists(t, filepath.Join(cfg.Output.ResultsDir, ReportCSV))

	raw, err = os.ReadFile(filepath.Join(cfg.Output.ResultsDir, ReportParentsJSON))
	require.NoError(t, err)
	var parents []viability.Summary
	require.NoError(t, json.Unmarshal(raw, &parents))
	assert.Equal(t, report.Parents, parents)
	parentsCSV, err := os.ReadFile(filepath.Join(cfg.Output.ResultsDir, ReportParentsCSV))
	require.NoError(t, err)
	assert.Contains(t, string(parentsCSV), "plate1")

	op, ok := prof.Operation("detect")
	require.True(t, ok)
	assert.Equal(t, int64(2), op.Count)
}

func TestRunSingleClass(t *testing.T) {
	cfg := testConfig(t)
	cfg.Output.Figure = false
	cfg.Output.XML = false
	writeImage(t, cfg.Input.ImageDir, "plate3_1.png")

	p, err := New(cfg, &fakeRunner{classes: []float32{1, 1, 1}}, nil)
	require.NoError(t, err)

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Images, 1)
	assert.ErrorIs(t, report.Images[0].ViabilityErr, viability.ErrMissingClass)
	assert.Nil(t, report.Images[0].Summary)
	assert.Empty(t, report.Summaries)
	assert.Empty(t, report.Images[0].XMLPath)
	assert.Empty(t, report.Images[0].FigurePath)
}

// TestRunPaletteExhausted verifies an image with more classes than palette colors keeps its
// summary and XML while the figure and raster are skipped.
//
// @example
// go test -v -run TestRunPaletteExhausted
func TestRunPaletteExhausted(t *testing.T) {
	cfg := testConfig(t)
	cfg.Output.Raster = true
	writeImage(t, cfg.Input.ImageDir, "plate8_1.png")

	classes := make([]float32, 11)
	scores := make([]float32, 11)
	for i := range classes {
		classes[i] = float32(i + 1)
		scores[i] = 0.9
	}

	p, err := New(cfg, &fakeRunner{classes: classes, scores: scores}, nil)
	require.NoError(t, err)

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Processed())
	assert.Empty(t, report.Failed)

	res := report.Images[0]
	assert.ErrorIs(t, res.FigureErr, visualize.ErrPaletteExhausted)
	require.NotNil(t, res.Summary)
	assert.Equal(t, 1, res.Summary.GerminatedCount)
	assert.Equal(t, 1, res.Summary.UngerminatedCount)
	assert.Equal(t, 11, res.Summary.TotalCount)
	assert.InDelta(t, 100.0/11, res.Summary.PercentViability, 1e-9)
	require.Len(t, report.Summaries, 1)

	assert.FileExists(t, res.XMLPath)
	assert.Empty(t, res.FigurePath)
	assert.Empty(t, res.HTMLPath)
	assert.Empty(t, res.RasterPath)
	assert.NoFileExists(t, filepath.Join(cfg.Output.ResultsDir, "plate8_1_bbox.json"))
	assert.NoFileExists(t, filepath.Join(cfg.Output.ResultsDir, "plate8_1_bbox.jpg"))
}

// TestRunRemovesPartialArtifacts verifies a failing export removes what the image already wrote.
func TestRunRemovesPartialArtifacts(t *testing.T) {
	cfg := testConfig(t)
	cfg.Output.Report = false
	require.NoError(t, os.WriteFile(cfg.Output.ResultsDir, []byte("not a directory"), 0o644))
	path := writeImage(t, cfg.Input.ImageDir, "plate9_1.png")

	p, err := New(cfg, &fakeRunner{classes: []float32{1, 2, 2}}, nil)
	require.NoError(t, err)

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, report.Processed())
	assert.Error(t, report.Failed[path])
	assert.Empty(t, report.Summaries)
	assert.NoFileExists(t, filepath.Join(cfg.Output.XMLDir, "plate9_1.xml"))
}

// TestRunCustomClasses verifies the figure groups follow the configured class ids.
func TestRunCustomClasses(t *testing.T) {
	cfg := testConfig(t)
	cfg.Output.XML = false
	cfg.Viability.GerminatedClass = 4
	cfg.Viability.UngerminatedClass = 3
	writeImage(t, cfg.Input.ImageDir, "plate10_1.png")

	p, err := New(cfg, &fakeRunner{classes: []float32{3, 4, 4}}, nil)
	require.NoError(t, err)

	report, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Processed())

	res := report.Images[0]
	require.NoError(t, res.FigureErr)
	assert.Equal(t, 1, res.Summary.GerminatedCount)
	assert.Equal(t, 1, res.Summary.UngerminatedCount)

	raw, err := os.ReadFile(res.FigurePath)
	require.NoError(t, err)
	var fig visualize.Figure
	require.NoError(t, json.Unmarshal(raw, &fig))
	require.Len(t, fig.Layout.UpdateMenus, 2)
	labels := func(m visualize.UpdateMenu) []string {
		var out []string
		for _, b := range m.Buttons {
			out = append(out, b.Label)
		}
		return out
	}
	assert.Equal(t, []string{"None", "3"}, labels(fig.Layout.UpdateMenus[0]))
	assert.Equal(t, []string{"All", "4"}, labels(fig.Layout.UpdateMenus[1]))
}

func TestRunPreview(t *testing.T) {
	cfg := testConfig(t)
	cfg.Output.Preview = true
	cfg.Output.Report = false
	writeImage(t, cfg.Input.ImageDir, "plate4_1.png")

	p, err := New(cfg, &fakeRunner{classes: []float32{1, 2, 2}}, nil)
	require.NoError(t, err)

	var titles []string
	p.SetPreviewer(func(title string, img image.Image) error {
		titles = append(titles, title)
		assert.Equal(t, image.Rect(0, 0, 100, 50), img.Bounds())
		return nil
	})

	report, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"plate4_1.png"}, titles)
	assert.Empty(t, report.Images[0].RasterPath)
	assert.NoFileExists(t, filepath.Join(cfg.Output.ResultsDir, ReportJSON))
}

func TestRunDetectionFailure(t *testing.T) {
	cfg := testConfig(t)
	path := writeImage(t, cfg.Input.ImageDir, "plate5_1.png")

	boom := errors.New("boom")
	p, err := New(cfg, &fakeRunner{err: boom}, nil)
	require.NoError(t, err)

	report, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Processed())
	assert.ErrorIs(t, report.Failed[path], boom)
}

func TestRunCanceled(t *testing.T) {
	cfg := testConfig(t)
	writeImage(t, cfg.Input.ImageDir, "plate6_1.png")

	runner := &fakeRunner{classes: []float32{1, 2, 2}}
	p, err := New(cfg, runner, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := p.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Zero(t, report.Processed())
	assert.Zero(t, runner.calls)
}

func TestRunNoImages(t *testing.T) {
	cfg := testConfig(t)

	p, err := New(cfg, &fakeRunner{}, nil)
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	assert.ErrorIs(t, err, util.ErrNoImages)
}

func TestNewWithLabelMap(t *testing.T) {
	cfg := testConfig(t)
	cfg.Output.Figure = false
	cfg.Input.LabelMapPath = filepath.Join(t.TempDir(), "label_map.pbtxt")
	require.NoError(t, os.WriteFile(cfg.Input.LabelMapPath, []byte(`
item {
  id: 1
  name: 'germinated'
}
item {
  id: 2
  name: 'ungerminated'
}
`), 0o644))
	path := writeImage(t, cfg.Input.ImageDir, "plate7_1.png")

	p, err := New(cfg, &fakeRunner{classes: []float32{2, 1, 1}}, nil)
	require.NoError(t, err)

	res, err := p.ProcessImage(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "ungerminated", res.Table.Rows[0].Label)

	f, err := os.Open(res.XMLPath)
	require.NoError(t, err)
	defer f.Close()
	ann, err := annotation.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, "ungerminated", ann.Objects[0].Name)

	cfg.Input.LabelMapPath = filepath.Join(t.TempDir(), "missing.pbtxt")
	_, err = New(cfg, &fakeRunner{}, nil)
	assert.Error(t, err)
}
