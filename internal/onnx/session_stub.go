//go:build !onnxruntime

package onnx

func newNativeSession(string, string) (Session, error) {
	return nil, ErrNativeUnavailable
}
