//go:build onnxruntime

package onnx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	envOnce sync.Once
	envErr  error
)

func initEnvironment(libraryPath string) error {
	envOnce.Do(func() {
		if libraryPath == "" {
			libraryPath = defaultLibraryName()
		}
		if err := ProbeLibrary(libraryPath); err != nil && !errors.Is(err, ErrProbeUnsupported) {
			envErr = err
			return
		}
		ort.SetSharedLibraryPath(libraryPath)
		envErr = ort.InitializeEnvironment()
	})
	return envErr
}

// nativeSession keeps one onnxruntime session open for the life of the
// backend. Run calls are serialized.
type nativeSession struct {
	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
	inputs  []string
}

func newNativeSession(modelPath, libraryPath string) (Session, error) {
	if err := initEnvironment(libraryPath); err != nil {
		return nil, fmt.Errorf("initialize onnxruntime: %w", err)
	}
	inputInfo, outputInfo, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", modelPath, err)
	}
	if len(outputInfo) == 0 {
		return nil, fmt.Errorf("%s declares no outputs", modelPath)
	}
	inputs := make([]string, 0, len(inputInfo))
	for _, in := range inputInfo {
		inputs = append(inputs, in.Name)
	}
	session, err := ort.NewDynamicAdvancedSession(modelPath, inputs, []string{outputInfo[0].Name}, nil)
	if err != nil {
		return nil, fmt.Errorf("create onnxruntime session: %w", err)
	}
	return &nativeSession{session: session, inputs: inputs}, nil
}

func (s *nativeSession) Run(ctx context.Context, inputIDs, attentionMask, tokenTypeIDs []int64) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	seqLen := int64(len(inputIDs))
	shape := ort.NewShape(1, seqLen)
	values := make([]ort.Value, 0, len(s.inputs))
	defer func() {
		for _, v := range values {
			_ = v.Destroy()
		}
	}()
	for _, name := range s.inputs {
		data := make([]int64, seqLen)
		switch {
		case strings.Contains(name, "input_ids"):
			copy(data, inputIDs)
		case strings.Contains(name, "attention_mask"):
			copy(data, attentionMask)
		case strings.Contains(name, "token_type_ids"):
			copy(data, tokenTypeIDs)
		}
		t, err := ort.NewTensor(shape, data)
		if err != nil {
			return nil, fmt.Errorf("input tensor %s: %w", name, err)
		}
		values = append(values, t)
	}

	outputs := []ort.Value{nil}
	if err := s.session.Run(values, outputs); err != nil {
		return nil, fmt.Errorf("onnxruntime run: %w", err)
	}
	defer outputs[0].Destroy()

	logits, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output type %T", outputs[0])
	}
	dims := logits.GetShape()
	if len(dims) != 3 || dims[0] != 1 {
		return nil, fmt.Errorf("unexpected logits shape %v", dims)
	}
	rows, cols := int(dims[1]), int(dims[2])
	data := logits.GetData()
	out := make([][]float32, rows)
	for i := 0; i < rows; i++ {
		row := make([]float32, cols)
		copy(row, data[i*cols:(i+1)*cols])
		out[i] = row
	}
	return out, nil
}

func (s *nativeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	return err
}
