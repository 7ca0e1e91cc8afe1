//go:build !((darwin || linux) && !android)

package onnx

import "runtime"

func defaultLibraryName() string {
	if runtime.GOOS == "windows" {
		return "onnxruntime.dll"
	}
	return "libonnxruntime.so"
}

func ProbeLibrary(string) error {
	return ErrProbeUnsupported
}
