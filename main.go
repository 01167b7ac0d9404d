package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/nvr-ai/seedvision/config"
	"github.com/nvr-ai/seedvision/inference"
	"github.com/nvr-ai/seedvision/inference/providers"
	"github.com/nvr-ai/seedvision/pipeline"
	"github.com/nvr-ai/seedvision/profiler"
	"github.com/nvr-ai/seedvision/util"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	var (
		configPath   string
		envFile      string
		saveConfig   string
		imageDir     string
		modelPath    string
		libraryPath  string
		labelMap     string
		resultsDir   string
		xmlDir       string
		threshold    float64
		flipY        bool
		scale        float64
		provider     string
		writeXML     bool
		writeFigure  bool
		writeRaster  bool
		rasterFormat string
		showWindow   bool
		writeReport  bool
		profile      bool
	)
	flag.StringVar(&configPath, "config", "", "Path to a JSON configuration file")
	flag.StringVar(&envFile, "env", "", "Path to an env file (default .env when present)")
	flag.StringVar(&saveConfig, "save-config", "", "Write the effective configuration to this path and exit")
	flag.StringVar(&imageDir, "images", ".", "Directory of .jpg/.png seed images")
	flag.StringVar(&modelPath, "model", "", "Path to the germination detection ONNX model")
	flag.StringVar(&libraryPath, "ort-lib", "", "Path to the onnxruntime shared library")
	flag.StringVar(&labelMap, "labels", "", "Label map (.pbtxt) naming the classes")
	flag.StringVar(&resultsDir, "results", "results", "Directory for figures, rasters and reports")
	flag.StringVar(&xmlDir, "xml-dir", ".", "Directory for LabelImg XML annotations")
	flag.Float64Var(&threshold, "threshold", 0.5, "Detection score threshold")
	flag.BoolVar(&flipY, "flip", true, "Measure y from the bottom edge in tables and figures")
	flag.Float64Var(&scale, "scale", 1, "Scale factor for figures and rasters")
	flag.StringVar(&provider, "provider", "cpu", "Execution provider: cpu, cuda, coreml, openvino")
	flag.BoolVar(&writeXML, "xml", true, "Write LabelImg XML annotations")
	flag.BoolVar(&writeFigure, "figure", true, "Write interactive figures")
	flag.BoolVar(&writeRaster, "raster", false, "Write rasters with drawn boxes")
	flag.StringVar(&rasterFormat, "raster-format", "jpg", "Raster format: jpg, png, webp")
	flag.BoolVar(&showWindow, "show-window", false, "Show each raster in a window")
	flag.BoolVar(&writeReport, "report", true, "Write the per-image and per-parent viability reports")
	flag.BoolVar(&profile, "profile", false, "Print stage timings at the end of the run")
	flag.Parse()

	var envFiles []string
	if envFile != "" {
		envFiles = append(envFiles, envFile)
	}
	cfg, err := config.Load(configPath, envFiles...)
	if err != nil {
		log.Fatal(err)
	}

	// Flags given on the command line win over the file and the environment.
	var flagErr error
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "images":
			cfg.Input.ImageDir = imageDir
		case "model":
			cfg.Model.ModelPath = modelPath
		case "ort-lib":
			cfg.Model.LibraryPath = libraryPath
		case "labels":
			cfg.Input.LabelMapPath = labelMap
		case "results":
			cfg.Output.ResultsDir = resultsDir
		case "xml-dir":
			cfg.Output.XMLDir = xmlDir
		case "threshold":
			cfg.Detection.ScoreThreshold = float32(threshold)
		case "flip":
			cfg.Detection.FlipY = flipY
		case "scale":
			cfg.Output.Scale = scale
		case "provider":
			backend, err := providers.ParseBackend(provider)
			if err != nil {
				flagErr = err
				return
			}
			cfg.Model.Provider.Backend = backend
		case "xml":
			cfg.Output.XML = writeXML
		case "figure":
			cfg.Output.Figure = writeFigure
		case "raster":
			cfg.Output.Raster = writeRaster
		case "raster-format":
			cfg.Output.RasterFormat = rasterFormat
		case "show-window":
			cfg.Output.Preview = showWindow
		case "report":
			cfg.Output.Report = writeReport
		}
	})
	if flagErr != nil {
		log.Fatal(flagErr)
	}

	if saveConfig != "" {
		if err := cfg.SaveToFile(saveConfig); err != nil {
			log.Fatal(err)
		}
		log.Printf("💾 configuration written to %s", saveConfig)
		return
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	if err := run(cfg, profile); err != nil {
		if errors.Is(err, util.ErrNoImages) {
			fmt.Println(err)
			return
		}
		log.Fatal(err)
	}
}

func run(cfg *config.Config, profile bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("\n🌱 Seed Germination Analysis\n")
	fmt.Printf("=====================================\n")
	fmt.Printf("   📂 Images: %s\n", cfg.Input.ImageDir)
	fmt.Printf("   🎯 Model: %s (%s)\n", cfg.Model.ModelPath, cfg.Model.Provider.Backend)
	fmt.Printf("   📊 Score threshold: %.2f\n", cfg.Detection.ScoreThreshold)
	fmt.Printf("   💾 Results: %s, XML: %s\n", cfg.Output.ResultsDir, cfg.Output.XMLDir)
	fmt.Printf("=====================================\n\n")

	session, err := inference.NewSession(cfg.Model)
	if err != nil {
		return fmt.Errorf("error loading model: %w", err)
	}
	defer func() {
		if err := inference.Shutdown(); err != nil {
			log.Printf("⚠️ error shutting down onnxruntime: %v", err)
		}
	}()
	defer session.Close()

	var prof *profiler.Profiler
	if profile {
		prof = profiler.New()
		defer prof.Report(os.Stdout)
	}

	p, err := pipeline.New(cfg, session, prof)
	if err != nil {
		return err
	}

	report, err := p.Run(ctx)
	if err != nil {
		return err
	}

	for _, s := range report.Parents {
		fmt.Printf("   %s: %d germinated, %d ungerminated, %.2f%% viable\n",
			s.ParentImage, s.GerminatedCount, s.UngerminatedCount, s.PercentViability)
	}

	return nil
}
