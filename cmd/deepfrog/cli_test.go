package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deepfrog/internal/pipeline"
	"deepfrog/internal/stats"
)

type stubBackend struct {
	mu      sync.Mutex
	texts   []string
	models  []string
	records []pipeline.Record
}

func (s *stubBackend) Name() string { return "stub" }

func (s *stubBackend) Load(_ context.Context, req pipeline.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models = append(s.models, req.Model)
	return nil
}

func (s *stubBackend) Infer(_ context.Context, req pipeline.Request) ([]pipeline.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, req.Text)
	return append([]pipeline.Record(nil), s.records...), nil
}

func (s *stubBackend) Close() error { return nil }

func amsterdamRecords() []pipeline.Record {
	return []pipeline.Record{
		{Entity: "B-loc", Score: 0.99, Index: 1, Word: "Amsterdam", Start: 0, End: 9},
		{Entity: "O", Score: 0.98, Index: 2, Word: "is", Start: 10, End: 12},
	}
}

// testEnv isolates config lookups from the developer's machine.
func testEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DEEPFROG_CACHE_DIR", filepath.Join(dir, "cache"))
	t.Setenv("DEEPFROG_JOURNAL_PATH", filepath.Join(dir, "journal.jsonl"))
	t.Setenv("DEEPFROG_BACKEND", "local")
	t.Setenv("DEEPFROG_PIPELINE_AGGREGATION", "none")
	return dir
}

func execute(t *testing.T, backend pipeline.Backend, args ...string) (string, string, error) {
	t.Helper()
	a := newApp()
	a.newBackend = func(*app, io.Writer) (pipeline.Backend, error) { return backend, nil }
	root := newRootCmd(a)
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestNERDefaults(t *testing.T) {
	testEnv(t)
	b := &stubBackend{records: amsterdamRecords()}

	out, _, err := execute(t, b, "ner")
	require.NoError(t, err)
	assert.Equal(t, "[\n  entity=B-loc score=0.9900 index=1 word=\"Amsterdam\" start=0 end=9\n]\n", out)
	assert.Equal(t, []string{amsterdamSentence}, b.texts)
	assert.Equal(t, []string{"proycon/bert-ner-cased-sonar1-nld"}, b.models)
}

func TestPOSRunsEachTextInOrder(t *testing.T) {
	testEnv(t)
	b := &stubBackend{records: amsterdamRecords()}

	out, _, err := execute(t, b, "pos", "--output", "json")
	require.NoError(t, err)
	assert.Equal(t, []string{giftSentence, amsterdamSentence}, b.texts)
	assert.Equal(t, []string{"proycon/bert-pos-cased-deepfrog-nld"}, b.models)

	dec := json.NewDecoder(strings.NewReader(out))
	for i := 0; i < 2; i++ {
		var got []pipeline.Record
		require.NoError(t, dec.Decode(&got))
		require.Len(t, got, 1)
		assert.Equal(t, "Amsterdam", got[0].Word)
	}
}

func TestTagWithExplicitModel(t *testing.T) {
	testEnv(t)
	b := &stubBackend{records: amsterdamRecords()}

	out, _, err := execute(t, b, "tag", "--task", "token-classification", "--model", "org/custom", "--output", "table", "Amsterdam is")
	require.NoError(t, err)
	assert.Equal(t, []string{"org/custom"}, b.models)
	assert.Contains(t, out, "LABEL")
	assert.Contains(t, out, "B-loc")
	assert.NotContains(t, out, "LEMMA")

	_, _, err = execute(t, b, "tag", "Amsterdam")
	assert.ErrorContains(t, err, "--model is required")

	_, _, err = execute(t, b, "tag", "--task", "chunk", "--model", "x", "Amsterdam")
	assert.ErrorIs(t, err, pipeline.ErrUnknownTask)
}

func TestLemmaNeedsModel(t *testing.T) {
	testEnv(t)
	_, _, err := execute(t, &stubBackend{}, "lemma")
	assert.ErrorContains(t, err, "pass --model")
}

func TestLemmaCommand(t *testing.T) {
	testEnv(t)
	b := &stubBackend{records: []pipeline.Record{
		{Entity: "0", Score: 0.9, Index: 1, Word: "Ik", Start: 0, End: 2},
		{Entity: "-[ef]+[ven]", Score: 0.8, Index: 2, Word: "geef", Start: 3, End: 7},
	}}
	out, _, err := execute(t, b, "lemma", "--model", "org/lemma", "--output", "table", "Ik geef")
	require.NoError(t, err)
	assert.Contains(t, out, "LEMMA")
	assert.Contains(t, out, "geven")
}

func TestInvalidFlags(t *testing.T) {
	testEnv(t)
	_, _, err := execute(t, &stubBackend{}, "ner", "--output", "xml")
	assert.ErrorContains(t, err, "unsupported output format")

	_, _, err = execute(t, &stubBackend{}, "ner", "--aggregation", "max")
	assert.ErrorContains(t, err, "unknown aggregation")

	_, _, err = execute(t, &stubBackend{}, "ner", "--backend", "gpu")
	assert.ErrorContains(t, err, "invalid backend")
}

func TestLemmaApply(t *testing.T) {
	out, _, err := execute(t, nil, "lemma-apply", "geef", "-[ef]+[ven]")
	require.NoError(t, err)
	assert.Equal(t, "geven\n", out)

	_, _, err = execute(t, nil, "lemma-apply", "geef", "-[xyz]")
	assert.Error(t, err)
}

func TestRunsAreJournaled(t *testing.T) {
	dir := testEnv(t)
	b := &stubBackend{records: amsterdamRecords()}

	_, _, err := execute(t, b, "ner")
	require.NoError(t, err)
	_, _, err = execute(t, b, "pos")
	require.NoError(t, err)

	out, _, err := execute(t, b, "stats", "--json")
	require.NoError(t, err)
	var st stats.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, 3, st.Runs.Total)
	assert.Equal(t, 1, st.Tasks["ner"])
	assert.Equal(t, 2, st.Tasks["pos"])
	assert.Equal(t, 3, st.Records.ByLabel["B-loc"])
	assert.Empty(t, st.Recent)
	assert.FileExists(t, filepath.Join(dir, "journal.jsonl"))
}
