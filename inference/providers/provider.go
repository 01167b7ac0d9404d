// Package providers - Execution provider selection for inference sessions.
package providers

import (
	"fmt"
	"strings"

	ort "github.com/yalue/onnxruntime_go"
)

// ProviderBackend represents different ONNX Runtime execution providers
type ProviderBackend string

const (
	// CPUProviderBackend runs the graph on the default CPU provider.
	CPUProviderBackend ProviderBackend = "cpu"
)

// ProviderOptions is a marker interface for provider-specific config.
type ProviderOptions interface {
	isProviderOptions()
}

// Config selects an execution provider and the threading of a session.
type Config struct {
	// Backend specifies the backend to use
	Backend ProviderBackend `json:"backend" yaml:"backend"`

	// Options contains provider-specific configuration options. Nil selects the defaults of
	// the backend.
	Options ProviderOptions `json:"-" yaml:"-"`

	// IntraOpNumThreads sets threads for parallelizing ops (0 lets the runtime decide)
	IntraOpNumThreads int `json:"intra_op_num_threads" yaml:"intra_op_num_threads"`

	// InterOpNumThreads sets threads for parallelizing independent ops (0 lets the runtime decide)
	InterOpNumThreads int `json:"inter_op_num_threads" yaml:"inter_op_num_threads"`
}

// DefaultConfig returns a CPU configuration with runtime chosen thread counts.
func DefaultConfig() Config {
	return Config{Backend: CPUProviderBackend}
}

// ParseBackend maps a backend name to a ProviderBackend.
func ParseBackend(name string) (ProviderBackend, error) {
	switch backend := ProviderBackend(strings.ToLower(strings.TrimSpace(name))); backend {
	case "", CPUProviderBackend:
		return CPUProviderBackend, nil
	case CUDAProviderBackend, CoreMLProviderBackend, OpenVINOProviderBackend:
		return backend, nil
	default:
		return "", fmt.Errorf("unsupported execution provider %q", name)
	}
}

// Validate checks that the options, when given, match the backend.
func (c Config) Validate() error {
	if _, err := ParseBackend(string(c.Backend)); err != nil {
		return err
	}
	if c.IntraOpNumThreads < 0 || c.InterOpNumThreads < 0 {
		return fmt.Errorf("thread counts must not be negative")
	}
	if c.Options == nil {
		return nil
	}

	var ok bool
	switch c.Backend {
	case CUDAProviderBackend:
		_, ok = c.Options.(CUDAOptions)
	case CoreMLProviderBackend:
		_, ok = c.Options.(CoreMLOptions)
	case OpenVINOProviderBackend:
		_, ok = c.Options.(OpenVINOOptions)
	}
	if !ok {
		return fmt.Errorf("invalid options type for %s: %T", c.Backend, c.Options)
	}
	return nil
}

// NewSessionOptions builds ONNX Runtime session options for the configured backend.
//
// Execution providers let ONNX Runtime leverage specialized hardware or optimized libraries.
// The CPU backend appends nothing and relies on the default provider.
//
// **Note: The caller owns the returned options and must Destroy them.**
//
// Returns:
//   - *ort.SessionOptions: Options ready to pass to a session constructor.
//   - error: An error if the options cannot be created or the provider cannot be enabled.
func (c Config) NewSessionOptions() (*ort.SessionOptions, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating ORT session options: %w", err)
	}

	if err := c.apply(options); err != nil {
		options.Destroy()
		return nil, err
	}

	return options, nil
}

func (c Config) apply(options *ort.SessionOptions) error {
	if err := options.SetIntraOpNumThreads(c.IntraOpNumThreads); err != nil {
		return fmt.Errorf("error setting intra-op threads: %w", err)
	}
	if err := options.SetInterOpNumThreads(c.InterOpNumThreads); err != nil {
		return fmt.Errorf("error setting inter-op threads: %w", err)
	}
	// Enables graph rewrites (e.g., fusion, constant folding) during graph loading.
	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended); err != nil {
		return fmt.Errorf("error setting graph optimization level: %w", err)
	}

	switch c.Backend {
	case CoreMLProviderBackend:
		opts, _ := c.Options.(CoreMLOptions)
		if err := options.AppendExecutionProviderCoreML(opts.Flags()); err != nil {
			return fmt.Errorf("error enabling CoreML: %w", err)
		}
	case OpenVINOProviderBackend:
		opts, ok := c.Options.(OpenVINOOptions)
		if !ok {
			opts = DefaultOpenVINOOptions()
		}
		if err := options.AppendExecutionProviderOpenVINO(opts.ToMap()); err != nil {
			return fmt.Errorf("error enabling OpenVINO: %w", err)
		}
	case CUDAProviderBackend:
		opts, _ := c.Options.(CUDAOptions)
		cuda, err := opts.ToNativeProviderOptions()
		if err != nil {
			return fmt.Errorf("error converting CUDA options: %w", err)
		}
		defer cuda.Destroy()
		if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
			return fmt.Errorf("error enabling CUDA: %w", err)
		}
	}

	return nil
}
