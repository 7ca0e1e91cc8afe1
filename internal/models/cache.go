package models

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	completeMarker = ".complete"
	tokenizersDir  = "tokenizers"
)

// CacheName turns "org/name" into a single path element.
func CacheName(id string) string {
	return strings.ReplaceAll(strings.Trim(id, "/"), "/", "--")
}

func idFromCacheName(name string) string {
	return strings.ReplaceAll(name, "--", "/")
}

func ModelInstallPath(root, id, revision string) string {
	return filepath.Join(root, CacheName(id), revision)
}

func TokenizerInstallPath(root, id, revision string) string {
	return filepath.Join(root, tokenizersDir, CacheName(id), revision)
}

// IsComplete reports whether dir holds a finished install.
func IsComplete(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, completeMarker))
	return err == nil
}

func writeMarker(dir string, sources []string) error {
	content := strings.Join(sources, "\n") + "\n"
	return os.WriteFile(filepath.Join(dir, completeMarker), []byte(content), 0o644)
}

// Sources lists what an install was fetched from.
func Sources(dir string) ([]string, error) {
	raw, err := os.ReadFile(filepath.Join(dir, completeMarker))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(raw), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out, nil
}

type Installed struct {
	ID        string
	Revision  string
	Path      string
	SizeBytes int64
}

// ListInstalled walks the cache for complete model installs.
func ListInstalled(root string) ([]Installed, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []Installed
	for _, e := range entries {
		if !e.IsDir() || e.Name() == tokenizersDir || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		revs, err := os.ReadDir(filepath.Join(root, e.Name()))
		if err != nil {
			continue
		}
		for _, rev := range revs {
			dir := filepath.Join(root, e.Name(), rev.Name())
			if !rev.IsDir() || !IsComplete(dir) {
				continue
			}
			size, _ := dirSize(dir)
			out = append(out, Installed{
				ID:        idFromCacheName(e.Name()),
				Revision:  rev.Name(),
				Path:      dir,
				SizeBytes: size,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID == out[j].ID {
			return out[i].Revision < out[j].Revision
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Remove deletes every cached revision of id, model and tokenizer alike.
// It reports whether anything was removed.
func Remove(root, id string) (bool, error) {
	name, err := safeCacheName(id)
	if err != nil {
		return false, err
	}
	removed := false
	for _, dir := range []string{
		filepath.Join(root, name),
		filepath.Join(root, tokenizersDir, name),
	} {
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			return removed, fmt.Errorf("remove %s: %w", dir, err)
		}
		removed = true
	}
	return removed, nil
}

// safeCacheName returns the cache entry name of id, refusing ids that would
// name the cache root, its parent or anything outside it.
func safeCacheName(id string) (string, error) {
	name := CacheName(strings.TrimSpace(id))
	switch {
	case name == "", name == ".", name == "..", name == tokenizersDir:
		return "", fmt.Errorf("invalid model id %q", id)
	case strings.HasPrefix(name, "."), strings.ContainsAny(name, `/\`), filepath.IsAbs(name):
		return "", fmt.Errorf("invalid model id %q", id)
	case filepath.Base(name) != name:
		return "", fmt.Errorf("invalid model id %q", id)
	}
	return name, nil
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	return total, err
}

// Verify checks that dir is a complete install with a graph, a label map
// and a tokenizer.
func Verify(dir string) error {
	if !IsComplete(dir) {
		return fmt.Errorf("%s: install incomplete", dir)
	}
	if !hasModelFiles(dir) {
		return fmt.Errorf("%s: missing graph, label map or tokenizer", dir)
	}
	return nil
}
