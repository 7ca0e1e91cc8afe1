package models

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedRegistry(t *testing.T) {
	reg, err := LoadEmbeddedRegistry()
	require.NoError(t, err)
	require.NotEmpty(t, reg.Models)

	ner, ok := reg.Recommended("ner")
	require.True(t, ok)
	assert.Equal(t, "proycon/bert-ner-cased-sonar1-nld", ner.ID)
	assert.Equal(t, "nl", ner.Language)

	pos, ok := reg.Find("DeepFrog-POS")
	require.True(t, ok)
	assert.Equal(t, "proycon/bert-pos-cased-deepfrog-nld", pos.ID)
	assert.Equal(t, "pos", pos.Task)

	assert.Equal(t, "proycon/bert-ner-cased-sonar1-nld", reg.Canonical("ner-nld"))
	assert.Equal(t, "someone/else", reg.Canonical("someone/else"))

	_, ok = reg.Recommended("lemma")
	assert.False(t, ok)
}

func TestParseRegistryErrors(t *testing.T) {
	_, err := parseRegistry([]byte("models: ["))
	assert.Error(t, err)

	_, err = parseRegistry([]byte("models:\n  - task: ner\n"))
	assert.ErrorContains(t, err, "no id")
}

func TestCacheLayout(t *testing.T) {
	assert.Equal(t, "proycon--bert-ner-cased-sonar1-nld", CacheName("proycon/bert-ner-cased-sonar1-nld"))
	assert.Equal(t, filepath.Join("root", "org--name", "main"), ModelInstallPath("root", "org/name", "main"))
	assert.Equal(t, filepath.Join("root", "tokenizers", "org--name", "v1"), TokenizerInstallPath("root", "org/name", "v1"))
}

func TestListAndRemoveInstalled(t *testing.T) {
	root := t.TempDir()
	complete := ModelInstallPath(root, "org/a", "main")
	require.NoError(t, os.MkdirAll(complete, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(complete, "model.onnx"), []byte("12345"), 0o644))
	require.NoError(t, writeMarker(complete, []string{"https://example.test/org/a"}))

	partial := ModelInstallPath(root, "org/b", "main")
	require.NoError(t, os.MkdirAll(partial, 0o755))

	tok := TokenizerInstallPath(root, "org/a", "main")
	require.NoError(t, os.MkdirAll(tok, 0o755))
	require.NoError(t, writeMarker(tok, nil))

	got, err := ListInstalled(root)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "org/a", got[0].ID)
	assert.Equal(t, "main", got[0].Revision)
	assert.Greater(t, got[0].SizeBytes, int64(5))

	sources, err := Sources(complete)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.test/org/a"}, sources)

	removed, err := Remove(root, "org/a")
	require.NoError(t, err)
	assert.True(t, removed)
	_, err = os.Stat(tok)
	assert.True(t, os.IsNotExist(err))

	removed, err = Remove(root, "org/a")
	require.NoError(t, err)
	assert.False(t, removed)

	missing, err := ListInstalled(filepath.Join(root, "nope"))
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestVerify(t *testing.T) {
	dir := t.TempDir()
	assert.ErrorContains(t, Verify(dir), "incomplete")
	require.NoError(t, writeMarker(dir, nil))
	assert.ErrorContains(t, Verify(dir), "missing")
	for _, f := range []string{"model.onnx", "labels.json", "vocab.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, f), []byte("x"), 0o644))
	}
	assert.NoError(t, Verify(dir))
}

func TestRemoveStaysInsideCache(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "cache")
	keep := ModelInstallPath(root, "org/keep", "main")
	require.NoError(t, os.MkdirAll(keep, 0o755))
	sibling := filepath.Join(base, "sibling.txt")
	require.NoError(t, os.WriteFile(sibling, []byte("x"), 0o644))

	for _, id := range []string{"", " ", ".", "..", "/", "//", "./", "../", "tokenizers", ".hidden", `..\x`} {
		removed, err := Remove(root, id)
		assert.Error(t, err, "id %q", id)
		assert.False(t, removed, "id %q", id)
	}

	assert.DirExists(t, keep)
	assert.FileExists(t, sibling)

	removed, err := Remove(root, "org/keep")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.DirExists(t, root)
}
