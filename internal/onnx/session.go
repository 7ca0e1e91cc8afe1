package onnx

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	RuntimePython = "python"
	RuntimeNative = "native"
)

var (
	ErrNativeUnavailable = errors.New("native ONNX runtime requires build tag 'onnxruntime'")
	ErrProbeUnsupported  = errors.New("shared library probing is not supported on this platform")
)

// Session runs a token classification graph on one encoded sequence and
// returns one row of logits per position.
type Session interface {
	Run(ctx context.Context, inputIDs, attentionMask, tokenTypeIDs []int64) ([][]float32, error)
	Close() error
}

type SessionConfig struct {
	Runtime     string
	Python      string
	LibraryPath string
}

func NewSession(modelPath string, cfg SessionConfig) (Session, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Runtime)) {
	case "", RuntimePython:
		return newPythonSession(modelPath, cfg.Python), nil
	case RuntimeNative:
		return newNativeSession(modelPath, cfg.LibraryPath)
	default:
		return nil, fmt.Errorf("unknown onnx runtime %q", cfg.Runtime)
	}
}
