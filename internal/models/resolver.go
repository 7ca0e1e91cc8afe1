package models

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"deepfrog/internal/logger"
	"deepfrog/internal/pipeline"
)

const DefaultRevision = "main"

var modelGroups = []FileGroup{
	{Alternatives: []string{"config.json"}},
	{Alternatives: []string{"model.onnx", "onnx/model.onnx"}},
	{Alternatives: []string{"tokenizer.json", "vocab.txt"}, Optional: true},
	{Alternatives: []string{"tokenizer_config.json"}, Optional: true},
	{Alternatives: []string{"special_tokens_map.json"}, Optional: true},
}

var tokenizerGroups = []FileGroup{
	{Alternatives: []string{"tokenizer.json", "vocab.txt"}},
	{Alternatives: []string{"tokenizer_config.json"}, Optional: true},
	{Alternatives: []string{"special_tokens_map.json"}, Optional: true},
}

// Resolver maps identifiers to installed directories, downloading on a
// cache miss unless Offline is set.
type Resolver struct {
	Root       string
	Registry   Registry
	Downloader *Downloader
	Offline    bool
	OnProgress ProgressCallback

	log *logrus.Logger
}

func NewResolver(root string, reg Registry, dl *Downloader) *Resolver {
	return &Resolver{Root: root, Registry: reg, Downloader: dl, log: logger.GetLogger()}
}

// ResolveModel returns a directory holding the graph, the label map and
// usually the tokenizer of id. An existing local directory is used as is.
func (r *Resolver) ResolveModel(ctx context.Context, id, revision string) (string, error) {
	if dir, ok := localDir(id); ok {
		return dir, nil
	}
	id = r.Registry.Canonical(id)
	revision = orDefault(revision)
	dest := ModelInstallPath(r.Root, id, revision)
	if IsComplete(dest) {
		r.logger().WithField("path", dest).Debug("model cache hit")
		return dest, nil
	}
	if r.Offline {
		return "", pipeline.NewResolutionError(id, errors.New("not in cache and downloads are disabled"))
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if spec, ok := r.Registry.Find(id); ok && spec.Archive != nil {
		r.logger().WithField("model", id).Info("installing model archive")
		return r.Downloader.DownloadAndInstall(ctx, spec, r.Root, revision, r.OnProgress)
	}
	r.logger().WithFields(logrus.Fields{"model": id, "revision": revision}).Info("downloading model from hub")
	if err := r.Downloader.InstallFromHub(ctx, id, revision, dest, modelGroups, r.OnProgress); err != nil {
		return "", err
	}
	return dest, nil
}

// ResolveTokenizer returns a directory holding tokenizer files for id. A
// complete model install of the same id is reused.
func (r *Resolver) ResolveTokenizer(ctx context.Context, id, revision string) (string, error) {
	if dir, ok := localDir(id); ok {
		return dir, nil
	}
	id = r.Registry.Canonical(id)
	revision = orDefault(revision)
	if dir := ModelInstallPath(r.Root, id, revision); IsComplete(dir) && hasTokenizer(dir) {
		return dir, nil
	}
	dest := TokenizerInstallPath(r.Root, id, revision)
	if IsComplete(dest) {
		return dest, nil
	}
	if r.Offline {
		return "", pipeline.NewResolutionError(id, errors.New("tokenizer not in cache and downloads are disabled"))
	}
	if err := r.Downloader.InstallFromHub(ctx, id, revision, dest, tokenizerGroups, r.OnProgress); err != nil {
		return "", err
	}
	return dest, nil
}

func (r *Resolver) logger() *logrus.Logger {
	if r.log == nil {
		r.log = logger.GetLogger()
	}
	return r.log
}

func localDir(id string) (string, bool) {
	if id == "" {
		return "", false
	}
	if strings.HasPrefix(id, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			id = filepath.Join(home, id[2:])
		}
	}
	info, err := os.Stat(id)
	if err != nil || !info.IsDir() {
		return "", false
	}
	abs, err := filepath.Abs(id)
	if err != nil {
		return id, true
	}
	return abs, true
}

func hasTokenizer(dir string) bool {
	for _, f := range []string{"tokenizer.json", "vocab.txt"} {
		if _, err := os.Stat(filepath.Join(dir, f)); err == nil {
			return true
		}
	}
	return false
}

func orDefault(revision string) string {
	if strings.TrimSpace(revision) == "" {
		return DefaultRevision
	}
	return revision
}
