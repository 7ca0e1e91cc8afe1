package onnx

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type modelConfigJSON struct {
	Architectures []string          `json:"architectures"`
	ID2Label      map[string]string `json:"id2label"`
}

// loadLabels returns the label of every output class, indexed by class id.
// config.json id2label wins over labels.json.
func loadLabels(dir string) ([]string, error) {
	raw, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err == nil {
		var cfg modelConfigJSON
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse config.json: %w", err)
		}
		if err := checkArchitecture(cfg.Architectures); err != nil {
			return nil, err
		}
		if len(cfg.ID2Label) > 0 {
			return denseLabels(cfg.ID2Label)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	raw, err = os.ReadFile(filepath.Join(dir, "labels.json"))
	if err != nil {
		return nil, fmt.Errorf("load labels: %w", err)
	}
	var labels map[string]string
	if err := json.Unmarshal(raw, &labels); err != nil {
		return nil, fmt.Errorf("load labels: %w", err)
	}
	return denseLabels(labels)
}

// checkArchitecture rejects checkpoints that declare an architecture without
// a token classification head.
func checkArchitecture(archs []string) error {
	if len(archs) == 0 {
		return nil
	}
	for _, a := range archs {
		if strings.HasSuffix(a, "ForTokenClassification") {
			return nil
		}
	}
	return fmt.Errorf("checkpoint architecture %s has no token classification head", strings.Join(archs, ","))
}

func denseLabels(m map[string]string) ([]string, error) {
	if len(m) == 0 {
		return nil, errors.New("label map is empty")
	}
	hi := -1
	byID := make(map[int]string, len(m))
	for k, v := range m {
		id, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil || id < 0 {
			return nil, fmt.Errorf("invalid label id %q", k)
		}
		byID[id] = v
		if id > hi {
			hi = id
		}
	}
	out := make([]string, hi+1)
	for i := range out {
		if l, ok := byID[i]; ok {
			out[i] = l
		} else {
			out[i] = "LABEL_" + strconv.Itoa(i)
		}
	}
	return out, nil
}
