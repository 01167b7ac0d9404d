// Package providers - Utility functions.
package providers

import (
	"fmt"
	"os"
	"runtime"
)

// SharedLibEnv names the environment variable that overrides the runtime library location.
const SharedLibEnv = "ONNXRUNTIME_SHARED_LIBRARY_PATH"

// GetSharedLibPath returns the path to the shared library for the current platform.
//
// The SharedLibEnv variable takes precedence over the bundled third_party layout.
//
// Returns:
//   - string: The path to the shared library.
//   - error: An error if no library is known for the platform.
func GetSharedLibPath() (string, error) {
	if path := os.Getenv(SharedLibEnv); path != "" {
		return path, nil
	}

	switch runtime.GOOS {
	case "windows":
		if runtime.GOARCH == "amd64" {
			return "./third_party/onnxruntime.dll", nil
		}
	case "darwin":
		return "./third_party/libonnxruntime.dylib", nil
	case "linux":
		if runtime.GOARCH == "arm64" {
			return "./third_party/onnxruntime_arm64.so", nil
		}
		return "./third_party/onnxruntime.so", nil
	}

	return "", fmt.Errorf("no onnxruntime library known for %s/%s", runtime.GOOS, runtime.GOARCH)
}
