//go:build (darwin || linux) && !android

package onnx

import (
	"fmt"
	"runtime"

	"github.com/ebitengine/purego"
)

func defaultLibraryName() string {
	if runtime.GOOS == "darwin" {
		return "libonnxruntime.dylib"
	}
	return "libonnxruntime.so"
}

// ProbeLibrary opens the onnxruntime shared library and looks up its entry
// point without initializing it.
func ProbeLibrary(path string) error {
	if path == "" {
		path = defaultLibraryName()
	}
	lib, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer purego.Dlclose(lib)
	if _, err := purego.Dlsym(lib, "OrtGetApiBase"); err != nil {
		return fmt.Errorf("%s is not an onnxruntime library: %w", path, err)
	}
	return nil
}
