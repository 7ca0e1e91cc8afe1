package backends

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deepfrog/internal/config"
	"deepfrog/internal/models"
	"deepfrog/internal/pipeline"
)

func TestIntegrationDutchNER(t *testing.T) {
	if os.Getenv("DEEPFROG_RUN_INTEGRATION") == "" {
		t.Skip("set DEEPFROG_RUN_INTEGRATION=1 to run against the real NER model")
	}
	const (
		model = "proycon/bert-ner-cased-sonar1-nld"
		text  = "Amsterdam is de hoofdstad van Nederland, maar de regering zetelt in Den Haag."
	)
	cfg, err := config.Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	reg, err := models.LoadEmbeddedRegistry()
	require.NoError(t, err)

	run := func() []pipeline.Record {
		b, err := New(cfg, Options{Registry: reg})
		require.NoError(t, err)
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Hub.Timeout+cfg.Inference.Timeout)
		defer cancel()
		got, err := pipeline.Invoke(ctx, b, pipeline.TaskNER, model, model, text,
			pipeline.WithRevision(cfg.Hub.Revision),
			pipeline.WithAggregation(pipeline.AggregationSimple))
		require.NoError(t, err)
		return got
	}

	spans := func(recs []pipeline.Record) map[string][2]int {
		out := make(map[string][2]int)
		for _, r := range recs {
			out[r.Word] = [2]int{r.Start, r.End}
		}
		return out
	}

	first := run()
	got := spans(first)
	assert.Equal(t, [2]int{0, 9}, got["Amsterdam"], "records: %v", first)
	assert.Equal(t, [2]int{68, 76}, got["Den Haag"], "records: %v", first)

	second := run()
	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].Label(), second[i].Label())
		assert.Equal(t, first[i].Start, second[i].Start)
		assert.Equal(t, first[i].End, second[i].End)
	}
}
