// Package pipeline runs every image of a directory through detection, tabulation, viability
// counting and the configured exports.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"

	"github.com/nvr-ai/seedvision/annotation"
	"github.com/nvr-ai/seedvision/config"
	"github.com/nvr-ai/seedvision/images"
	"github.com/nvr-ai/seedvision/inference"
	"github.com/nvr-ai/seedvision/models"
	"github.com/nvr-ai/seedvision/profiler"
	"github.com/nvr-ai/seedvision/table"
	"github.com/nvr-ai/seedvision/util"
	"github.com/nvr-ai/seedvision/viability"
	"github.com/nvr-ai/seedvision/visualize"
)

// Report file names written to the results directory.
const (
	ReportJSON        = "viability.json"
	ReportCSV         = "viability.csv"
	ReportParentsJSON = "viability_parents.json"
	ReportParentsCSV  = "viability_parents.csv"
)

// ImageResult is what one image produced. Paths are empty for artifacts that were not written.
type ImageResult struct {
	Path       string
	Table      *table.Table
	Summary    *viability.Summary
	XMLPath    string
	FigurePath string
	HTMLPath   string
	RasterPath string
	// ViabilityErr is set when the image has no or a single class; the image still counts as
	// processed.
	ViabilityErr error
	// FigureErr is set when the boxes could not be colored, for instance when the image has more
	// classes than the palette has colors. The figure and raster are skipped; the summary and
	// XML are kept.
	FigureErr error
}

// Report summarizes a run.
type Report struct {
	Images    []ImageResult
	Failed    map[string]error
	Summaries []viability.Summary
	// Parents holds the summaries aggregated per parent image.
	Parents []viability.Summary
}

// Processed returns the number of images that went through every stage.
func (r *Report) Processed() int {
	return len(r.Images)
}

// Previewer shows a rendered raster.
type Previewer func(title string, img image.Image) error

// Pipeline holds what is shared by every image of a run: the configuration, the model handle
// and the class names.
type Pipeline struct {
	cfg        *config.Config
	runner     inference.Runner
	labels     *models.OutputClassSet
	calculator viability.Calculator
	profiler   *profiler.Profiler
	preview    Previewer
}

// New prepares a pipeline.
//
// Arguments:
//   - cfg: The validated run configuration.
//   - runner: The model handle; the caller owns and closes it.
//   - prof: Collects stage timings; may be nil.
//
// Returns:
//   - *Pipeline: The pipeline.
//   - error: An error if the label map cannot be read.
func New(cfg *config.Config, runner inference.Runner, prof *profiler.Profiler) (*Pipeline, error) {
	p := &Pipeline{
		cfg:    cfg,
		runner: runner,
		calculator: viability.Calculator{
			GerminatedClass:   cfg.Viability.GerminatedClass,
			UngerminatedClass: cfg.Viability.UngerminatedClass,
		},
		profiler: prof,
		preview: func(title string, img image.Image) error {
			return visualize.Preview(title, img, 0)
		},
	}

	if cfg.Input.LabelMapPath != "" {
		labels, err := models.LoadLabelMap(cfg.Input.LabelMapPath)
		if err != nil {
			return nil, err
		}
		p.labels = labels
	}

	return p, nil
}

// SetPreviewer replaces the window used for previews.
func (p *Pipeline) SetPreviewer(preview Previewer) {
	p.preview = preview
}

// Run processes every image of the configured directory in order.
//
// A failing image is logged and recorded in Report.Failed; the run continues with the next
// one. The run stops early only when ctx is done, returning the partial report with the
// context error. An empty directory returns util.ErrNoImages.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	paths, err := util.ListImagePaths(p.cfg.Input.ImageDir)
	if err != nil {
		return nil, err
	}
	log.Printf("📂 found %d images in %s", len(paths), p.cfg.Input.ImageDir)

	report := &Report{Failed: make(map[string]error)}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		res, err := p.ProcessImage(ctx, path)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return report, err
			}
			log.Printf("⚠️ skipping %s: %v", path, err)
			report.Failed[path] = err
			continue
		}

		report.Images = append(report.Images, *res)
		if res.Summary != nil {
			report.Summaries = append(report.Summaries, *res.Summary)
		}
	}

	report.Parents = viability.Aggregate(report.Summaries)
	p.profiler.RecordMetric("failed_images", float64(len(report.Failed)))

	if p.cfg.Output.Report {
		if err := p.WriteReports(report); err != nil {
			return report, err
		}
	}

	log.Printf("✅ processed %d images, %d failed", report.Processed(), len(report.Failed))
	return report, nil
}

// ProcessImage runs one image through every stage and writes the enabled artifacts.
//
// An image either succeeds or fails as a whole: when a stage fails, the artifacts already
// written for it are removed. A palette that is too short for the image is not a failure; it
// is recorded in ImageResult.FigureErr.
func (p *Pipeline) ProcessImage(ctx context.Context, path string) (_ *ImageResult, err error) {
	done := p.profiler.StartOperation("image")
	defer done()

	img, err := p.load(path)
	if err != nil {
		return nil, err
	}

	res, err := p.detect(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("error detecting seeds: %w", err)
	}
	p.profiler.RecordMetric("detections", float64(res.Count))

	stop := p.profiler.StartOperation("tabulate")
	t, err := table.FromResult(res, img.Bounds().Size(), table.Options{
		Threshold: p.cfg.Detection.ScoreThreshold,
		Flip:      p.cfg.Detection.FlipY,
		Labels:    p.labels,
	})
	stop()
	if err != nil {
		return nil, err
	}
	t.Image = path

	out := &ImageResult{Path: path, Table: t}

	var written []string
	defer func() {
		if err == nil {
			return
		}
		for _, name := range written {
			if name == "" {
				continue
			}
			if rmErr := os.Remove(name); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				log.Printf("⚠️ error removing %s: %v", name, rmErr)
			}
		}
	}()

	out.Summary, out.ViabilityErr = p.calculator.Compute(t, path)
	if out.ViabilityErr != nil {
		log.Printf("⚠️ no viability for %s: %v", path, out.ViabilityErr)
	} else {
		log.Printf("🌱 %s: %d/%d germinated (%.1f%%)", filepath.Base(path),
			out.Summary.GerminatedCount, out.Summary.TotalCount, out.Summary.PercentViability)
	}

	if p.cfg.Output.XML {
		if out.XMLPath, err = p.exportXML(res, path); err != nil {
			return nil, err
		}
		written = append(written, out.XMLPath)
	}

	if p.cfg.Output.Figure {
		out.FigurePath, out.HTMLPath, err = p.writeFigure(img, t)
		written = append(written, out.FigurePath, out.HTMLPath)
		if err != nil {
			if !errors.Is(err, visualize.ErrPaletteExhausted) {
				return nil, err
			}
			out.FigureErr = err
		}
	}

	if out.FigureErr == nil && (p.cfg.Output.Raster || p.cfg.Output.Preview) {
		out.RasterPath, err = p.writeRaster(img, t)
		written = append(written, out.RasterPath)
		if err != nil {
			if !errors.Is(err, visualize.ErrPaletteExhausted) {
				return nil, err
			}
			out.FigureErr = err
		}
	}

	if out.FigureErr != nil {
		log.Printf("⚠️ no figure for %s: %v", path, out.FigureErr)
	}

	return out, nil
}

func (p *Pipeline) load(path string) (image.Image, error) {
	defer p.profiler.StartOperation("load")()
	return images.Load(path)
}

func (p *Pipeline) detect(ctx context.Context, img image.Image) (*inference.DetectionResult, error) {
	defer p.profiler.StartOperation("detect")()
	return inference.Detect(ctx, p.runner, img, inference.Options{
		MaskThreshold: p.cfg.Detection.MaskThreshold,
	})
}

// exportXML tabulates res again without flipping so the annotation corners are measured from
// the top edge exactly as the model reported them.
func (p *Pipeline) exportXML(res *inference.DetectionResult, path string) (string, error) {
	defer p.profiler.StartOperation("xml")()

	rounding, err := p.cfg.Rounding()
	if err != nil {
		return "", err
	}

	return annotation.Export(res, path, p.cfg.Output.XMLDir, annotation.Options{
		Threshold:   p.cfg.Output.XMLThreshold,
		Labels:      p.labels,
		Rounding:    rounding,
		IncludeSize: p.cfg.Output.XMLSize,
	})
}

// writeFigure stores the figure as <results>/<name>_bbox.json and .html. Tables holding only
// the germinated and ungerminated classes get the toggle buttons. On error the paths of the
// files that were written are still returned.
func (p *Pipeline) writeFigure(img image.Image, t *table.Table) (string, string, error) {
	defer p.profiler.StartOperation("figure")()

	source, err := images.DataURI(img, images.FormatJPEG, p.cfg.Output.RasterQuality)
	if err != nil {
		return "", "", err
	}

	opts := visualize.FigureOptions{
		Scale:   p.cfg.Output.Scale,
		Palette: p.cfg.Output.Palette,
		Source:  source,
		Groups:  [2]int{p.cfg.Viability.GerminatedClass, p.cfg.Viability.UngerminatedClass},
	}

	fig, err := visualize.NewTwoClassFigure(t, opts)
	if errors.Is(err, visualize.ErrNotTwoClass) {
		fig, err = visualize.NewFigure(t, opts)
	}
	if err != nil {
		return "", "", err
	}

	if err := os.MkdirAll(p.cfg.Output.ResultsDir, 0o755); err != nil {
		return "", "", fmt.Errorf("error creating results directory: %w", err)
	}

	name := util.ImageNumber(t.Image)
	jsonPath := filepath.Join(p.cfg.Output.ResultsDir, name+"_bbox.json")
	if err := fig.WriteJSON(jsonPath); err != nil {
		return "", "", err
	}

	htmlPath := filepath.Join(p.cfg.Output.ResultsDir, name+"_bbox.html")
	if err := fig.WriteHTML(htmlPath, name, visualize.DefaultConfig()); err != nil {
		return jsonPath, "", err
	}

	return jsonPath, htmlPath, nil
}

// writeRaster renders the boxes into the image, saves it when rasters are enabled and shows it
// when previews are enabled.
func (p *Pipeline) writeRaster(img image.Image, t *table.Table) (string, error) {
	defer p.profiler.StartOperation("raster")()

	format, err := images.ParseFormat(p.cfg.Output.RasterFormat)
	if err != nil {
		return "", err
	}

	opts := visualize.RasterOptions{
		Scale:   p.cfg.Output.Scale,
		Palette: p.cfg.Output.Palette,
		Format:  format,
		Quality: p.cfg.Output.RasterQuality,
	}

	var path string
	if p.cfg.Output.Raster {
		if path, err = visualize.SaveRaster(img, t, p.cfg.Output.ResultsDir, opts); err != nil {
			return "", err
		}
		log.Printf("🖼️ raster out: %s", path)
	}

	if p.cfg.Output.Preview && p.preview != nil {
		rendered, err := visualize.Render(img, t, opts)
		if err != nil {
			return path, err
		}
		if err := p.preview(filepath.Base(t.Image), rendered); err != nil {
			return path, err
		}
	}

	return path, nil
}

// WriteReports stores the per-image summaries as viability.json and viability.csv and the
// per-parent summaries as viability_parents.json and viability_parents.csv in the results
// directory.
func (p *Pipeline) WriteReports(report *Report) error {
	dir := p.cfg.Output.ResultsDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating results directory: %w", err)
	}

	write := func(name string, fn func(*os.File) error) error {
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("error creating report: %w", err)
		}
		defer f.Close()

		if err := fn(f); err != nil {
			return fmt.Errorf("error writing %s: %w", name, err)
		}
		return f.Close()
	}

	if err := write(ReportJSON, func(f *os.File) error { return viability.WriteJSON(f, report.Summaries) }); err != nil {
		return err
	}
	if err := write(ReportCSV, func(f *os.File) error { return viability.WriteCSV(f, report.Summaries) }); err != nil {
		return err
	}
	if err := write(ReportParentsJSON, func(f *os.File) error { return viability.WriteJSON(f, report.Parents) }); err != nil {
		return err
	}
	if err := write(ReportParentsCSV, func(f *os.File) error { return viability.WriteCSV(f, report.Parents) }); err != nil {
		return err
	}

	log.Printf("📋 viability report: %s", filepath.Join(dir, ReportJSON))
	return nil
}
