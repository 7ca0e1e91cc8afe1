package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dustin/go-humanize"

	"deepfrog/internal/models"
)

func installFake(t *testing.T, root, id string, files ...string) string {
	t.Helper()
	dir := models.ModelInstallPath(root, id, models.DefaultRevision)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, f := range append(files, ".complete") {
		if err := os.WriteFile(filepath.Join(dir, f), []byte("https://example.test/"+id+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestSizeLabel(t *testing.T) {
	if got := sizeLabel(420 * 1000 * 1000); got != humanize.Bytes(420*1000*1000) {
		t.Fatalf("unexpected: %s", got)
	}
	if got := sizeLabel(0); got != "-" {
		t.Fatalf("unexpected: %s", got)
	}
}

func TestModelListAndInfo(t *testing.T) {
	reg, err := models.LoadEmbeddedRegistry()
	if err != nil {
		t.Fatal(err)
	}
	root := t.TempDir()
	installFake(t, root, "proycon/bert-ner-cased-sonar1-nld", "model.onnx", "config.json", "vocab.txt")
	installFake(t, root, "someone/custom", "model.onnx")

	var out bytes.Buffer
	if err := modelList(&out, reg, root); err != nil {
		t.Fatal(err)
	}
	list := out.String()
	if !strings.Contains(list, "proycon/bert-pos-cased-deepfrog-nld") || !strings.Contains(list, "not installed") {
		t.Fatalf("unexpected list output: %s", list)
	}
	if !strings.Contains(list, "someone/custom@main") || !strings.Contains(list, "Installed: 2 checkpoint(s)") {
		t.Fatalf("missing cached checkpoints: %s", list)
	}

	out.Reset()
	if err := modelInfo(&out, reg, root, "ner-nld", models.DefaultRevision); err != nil {
		t.Fatal(err)
	}
	info := out.String()
	if !strings.Contains(info, "Model: proycon/bert-ner-cased-sonar1-nld") || !strings.Contains(info, "Status:       Installed") {
		t.Fatalf("unexpected info output: %s", info)
	}

	if err := modelInfo(&out, reg, root, "missing", models.DefaultRevision); err == nil {
		t.Fatal("expected unknown model error")
	}
}

func TestModelVerifyDetectsIncomplete(t *testing.T) {
	root := t.TempDir()
	installFake(t, root, "org/good", "model.onnx", "config.json", "tokenizer.json")
	installFake(t, root, "org/bad", "model.onnx")

	var out bytes.Buffer
	err := modelVerify(&out, root)
	if err == nil || !strings.Contains(err.Error(), "1 model(s) failed") {
		t.Fatalf("expected one failure, got %v", err)
	}
	if !strings.Contains(out.String(), "org/bad@main\n  ├─ Source... https://example.test/org/bad\n  └─ Files...  ✗") {
		t.Fatalf("unexpected verify output: %s", out.String())
	}
	if !strings.Contains(out.String(), "org/good@main") {
		t.Fatalf("good model missing: %s", out.String())
	}
}

func TestModelVerifyEmptyCache(t *testing.T) {
	var out bytes.Buffer
	if err := modelVerify(&out, filepath.Join(t.TempDir(), "none")); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "No installed models found") {
		t.Fatalf("unexpected output: %s", out.String())
	}
}

func TestModelRemoveAsksFirst(t *testing.T) {
	reg, err := models.LoadEmbeddedRegistry()
	if err != nil {
		t.Fatal(err)
	}
	root := t.TempDir()
	dir := installFake(t, root, "proycon/bert-pos-cased-deepfrog-nld", "model.onnx")

	var out bytes.Buffer
	if err := modelRemove(strings.NewReader("n\n"), &out, reg, root, "pos-nld", false); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Cancelled") {
		t.Fatalf("unexpected output: %s", out.String())
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("model removed without confirmation: %v", err)
	}

	out.Reset()
	if err := modelRemove(strings.NewReader("yes\n"), &out, reg, root, "pos-nld", false); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("model still present: %v", err)
	}

	out.Reset()
	if err := modelRemove(nil, &out, reg, root, "pos-nld", true); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "is not installed") {
		t.Fatalf("unexpected output: %s", out.String())
	}
}

func TestModelRemoveRejectsPathLikeIDs(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "cache")
	dir := installFake(t, root, "org/a", "model.onnx")

	for _, id := range []string{"..", ".", "/"} {
		var out bytes.Buffer
		if err := modelRemove(nil, &out, models.Registry{}, root, id, true); err == nil {
			t.Fatalf("expected error for %q", id)
		}
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("cache entry removed: %v", err)
	}
	if _, err := os.Stat(base); err != nil {
		t.Fatalf("cache parent removed: %v", err)
	}
}
