package inference

import (
	"context"
	"fmt"
	"image"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/nvr-ai/seedvision/inference/providers"
	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"
)

// Config describes a detection model and how to run it.
type Config struct {
	// ModelPath is the path to the ONNX export of the detection graph.
	ModelPath string `json:"model_path" yaml:"model_path"`
	// LibraryPath overrides the onnxruntime shared library location.
	LibraryPath string `json:"library_path" yaml:"library_path"`
	// InputName is the image input of the graph.
	InputName string `json:"input_name" yaml:"input_name"`
	// OutputNames are requested when the graph has them; RequiredOutputs must be among them.
	OutputNames []string `json:"output_names" yaml:"output_names"`
	// InputShape resizes images before the run; the zero point feeds the native size.
	InputShape image.Point `json:"input_shape" yaml:"input_shape"`
	// Provider selects the execution provider.
	Provider providers.Config `json:"provider" yaml:"provider"`
}

// DefaultConfig returns the tensor names of an object detection API export on the CPU.
func DefaultConfig() Config {
	return Config{
		InputName:   InputImageTensor,
		OutputNames: append([]string{}, DefaultOutputs...),
		Provider:    providers.DefaultConfig(),
	}
}

// Session is an explicit handle on a loaded detection graph. It must be closed.
type Session struct {
	session *ort.DynamicAdvancedSession
	// output key (as requested) for each graph output name, in run order.
	keys       []string
	inputShape image.Point
}

var envMu sync.Mutex

// initEnvironment loads the native library once per process.
func initEnvironment(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}

	if libPath == "" {
		var err error
		if libPath, err = providers.GetSharedLibPath(); err != nil {
			return err
		}
	}
	if _, err := os.Stat(libPath); err != nil {
		return fmt.Errorf("ONNX Runtime library not found at %s: %w", libPath, err)
	}

	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("error initializing ORT environment: %w", err)
	}

	return nil
}

// Shutdown releases the process wide runtime environment. Sessions must be closed first.
func Shutdown() error {
	envMu.Lock()
	defer envMu.Unlock()

	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// NewSession loads a detection graph.
//
// Order of operations:
//  1. Environment setup: loads the native runtime once per process.
//  2. Graph inspection: resolves the configured input and output names against the graph,
//     accepting the ":0" suffix TensorFlow exports carry. Optional outputs that the graph does
//     not have are skipped; missing required outputs are an error.
//  3. Session options: threading and the execution provider.
//  4. Session creation: a dynamic session, since output shapes depend on the image.
//
// Arguments:
//   - cfg: The model configuration.
//
// Returns:
//   - *Session: The session handle.
//   - error: An error if the runtime, the graph or the provider cannot be set up.
func NewSession(cfg Config) (*Session, error) {
	if cfg.InputName == "" {
		cfg.InputName = InputImageTensor
	}
	if len(cfg.OutputNames) == 0 {
		cfg.OutputNames = DefaultOutputs
	}

	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model not found at %s: %w", cfg.ModelPath, err)
	}

	if err := initEnvironment(cfg.LibraryPath); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("error inspecting model %s: %w", cfg.ModelPath, err)
	}

	inputName, ok := resolveName(cfg.InputName, infoNames(inputs))
	if !ok {
		return nil, fmt.Errorf("model has no input named %q", cfg.InputName)
	}

	outputNames, keys, err := resolveOutputs(cfg.OutputNames, infoNames(outputs))
	if err != nil {
		return nil, err
	}

	options, err := cfg.Provider.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, []string{inputName}, outputNames, options)
	if err != nil {
		return nil, fmt.Errorf("error creating ORT session: %w", err)
	}

	log.Printf("✅ Detection model loaded: %s (provider=%s, outputs=%s)",
		cfg.ModelPath, cfg.Provider.Backend, strings.Join(keys, ","))

	return &Session{
		session:    session,
		keys:       keys,
		inputShape: cfg.InputShape,
	}, nil
}

// Outputs returns the output keys the session produces.
func (s *Session) Outputs() []string {
	return append([]string{}, s.keys...)
}

// Run feeds img through the graph once and copies every named output.
func (s *Session) Run(ctx context.Context, img image.Image) (Outputs, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.session == nil {
		return nil, fmt.Errorf("session is closed")
	}

	data, size := ImageTensorData(img, s.inputShape)
	input, err := ort.NewTensor(ort.NewShape(1, int64(size.Y), int64(size.X), 3), data)
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}
	defer input.Destroy()

	// Nil outputs are allocated by the runtime and owned by us afterwards.
	values := make([]ort.Value, len(s.keys))
	defer func() {
		for _, v := range values {
			if v != nil {
				v.Destroy()
			}
		}
	}()

	if err := s.session.Run([]ort.Value{input}, values); err != nil {
		return nil, fmt.Errorf("error running detection graph: %w", err)
	}

	out := make(Outputs, len(s.keys))
	for i, key := range s.keys {
		dense, err := toDense(values[i])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		out[key] = dense
	}

	return out, nil
}

// Close releases the native session.
func (s *Session) Close() error {
	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	if err != nil {
		return fmt.Errorf("error destroying ORT session: %w", err)
	}
	log.Printf("🔒 Detection model closed")
	return nil
}

func infoNames(infos []ort.InputOutputInfo) []string {
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	return names
}

// resolveName finds want among the graph names, with or without a ":0" suffix.
func resolveName(want string, names []string) (string, bool) {
	for _, name := range names {
		if name == want || name == want+":0" {
			return name, true
		}
	}
	return "", false
}

// resolveOutputs maps requested keys to graph names, dropping optional outputs the graph lacks.
func resolveOutputs(wanted, names []string) ([]string, []string, error) {
	var graphNames, keys []string
	for _, key := range wanted {
		name, ok := resolveName(key, names)
		if !ok {
			if isRequired(key) {
				return nil, nil, fmt.Errorf("%w: %s", ErrMissingOutput, key)
			}
			continue
		}
		graphNames = append(graphNames, name)
		keys = append(keys, key)
	}
	for _, key := range RequiredOutputs {
		if !contains(keys, key) {
			return nil, nil, fmt.Errorf("%w: %s not requested", ErrMissingOutput, key)
		}
	}
	return graphNames, keys, nil
}

func isRequired(key string) bool {
	return contains(RequiredOutputs, key)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// toDense copies a runtime tensor into a float32 dense tensor.
func toDense(v ort.Value) (*tensor.Dense, error) {
	switch t := v.(type) {
	case *ort.Tensor[float32]:
		return denseFrom(t.GetShape(), append([]float32{}, t.GetData()...)), nil
	case *ort.Tensor[float64]:
		return denseFrom(t.GetShape(), convert(t.GetData())), nil
	case *ort.Tensor[uint8]:
		return denseFrom(t.GetShape(), convert(t.GetData())), nil
	case *ort.Tensor[int32]:
		return denseFrom(t.GetShape(), convert(t.GetData())), nil
	case *ort.Tensor[int64]:
		return denseFrom(t.GetShape(), convert(t.GetData())), nil
	default:
		return nil, fmt.Errorf("unsupported output value %T", v)
	}
}

func denseFrom(shape ort.Shape, data []float32) *tensor.Dense {
	dims := make([]int, len(shape))
	for i, d := range shape {
		dims[i] = int(d)
	}
	return NewOutput(data, dims...)
}

func convert[T float64 | uint8 | int32 | int64](data []T) []float32 {
	out := make([]float32, len(data))
	for i, v := range data {
		out[i] = float32(v)
	}
	return out
}
