package models

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed registry.yaml
var embeddedRegistry []byte

type Registry struct {
	Version string      `yaml:"version"`
	Models  []ModelSpec `yaml:"models"`
}

// Archive is a packaged ONNX export of a model.
type Archive struct {
	URL      string `yaml:"url"`
	Checksum string `yaml:"checksum"`
}

type ModelSpec struct {
	ID          string   `yaml:"id"`
	Aliases     []string `yaml:"aliases"`
	Task        string   `yaml:"task"`
	Language    string   `yaml:"language"`
	Description string   `yaml:"description"`
	Labels      []string `yaml:"labels"`
	License     string   `yaml:"license"`
	Recommended bool     `yaml:"recommended"`
	SizeBytes   int64    `yaml:"size_bytes"`
	Example     string   `yaml:"example"`
	Archive     *Archive `yaml:"archive,omitempty"`
}

func LoadEmbeddedRegistry() (Registry, error) {
	return parseRegistry(embeddedRegistry)
}

func parseRegistry(data []byte) (Registry, error) {
	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return Registry{}, fmt.Errorf("parse model registry: %w", err)
	}
	for i, m := range reg.Models {
		if strings.TrimSpace(m.ID) == "" {
			return Registry{}, fmt.Errorf("parse model registry: entry %d has no id", i)
		}
	}
	sort.Slice(reg.Models, func(i, j int) bool { return reg.Models[i].ID < reg.Models[j].ID })
	return reg, nil
}

// Find matches an id or alias, case-insensitively.
func (r Registry) Find(name string) (ModelSpec, bool) {
	name = strings.TrimSpace(name)
	for _, m := range r.Models {
		if strings.EqualFold(m.ID, name) {
			return m, true
		}
		for _, a := range m.Aliases {
			if strings.EqualFold(a, name) {
				return m, true
			}
		}
	}
	return ModelSpec{}, false
}

// Recommended returns the recommended model for task.
func (r Registry) Recommended(task string) (ModelSpec, bool) {
	for _, m := range r.Models {
		if m.Task == task && m.Recommended {
			return m, true
		}
	}
	return ModelSpec{}, false
}

// Canonical maps an alias to its model id and leaves anything else as is.
func (r Registry) Canonical(name string) string {
	if m, ok := r.Find(name); ok {
		return m.ID
	}
	return name
}
