package stats

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deepfrog/internal/journal"
)

func TestCollectFromEntriesEmpty(t *testing.T) {
	st := CollectFromEntries(nil, Options{Now: time.Now()})
	assert.Zero(t, st.Runs.Total)
	assert.Zero(t, st.Records.Total)
	assert.Empty(t, st.TopModels)
	assert.Empty(t, st.Recent)
}

func TestCollectFromEntriesLarge(t *testing.T) {
	now := time.Now().UTC()
	entries := make([]journal.Entry, 0, 1200)
	for i := 0; i < 1200; i++ {
		e := journal.Entry{
			Timestamp:   now.Add(-time.Duration(i%48) * time.Hour).Format(time.RFC3339Nano),
			Task:        "ner",
			Model:       fmt.Sprintf("proycon/model-%d", i%7),
			Backend:     "local",
			RecordCount: 2,
			Labels:      map[string]int{"B-loc": 1, "B-per": 1},
			InferMs:     20,
			TotalMs:     100,
		}
		if i%100 == 0 {
			e.Error = "resolve model: not found"
		}
		entries = append(entries, e)
	}
	st := CollectFromEntries(entries, Options{Now: now})
	assert.Equal(t, 1200, st.Runs.Total)
	assert.Equal(t, 12, st.Runs.Failed)
	assert.Equal(t, 600, st.Runs.LastDay)
	assert.Equal(t, 2400, st.Records.Total)
	assert.Equal(t, 1200, st.Records.ByLabel["B-loc"])
	assert.Equal(t, 1200, st.Tasks["ner"])
	assert.InDelta(t, 100, st.Latency.TotalMs, 0.001)
	assert.InDelta(t, 20, st.Latency.InferMs, 0.001)
	assert.Zero(t, st.Latency.ResolveMs)
	require.Len(t, st.TopModels, 5)
	assert.GreaterOrEqual(t, st.TopModels[0].Runs, st.TopModels[4].Runs)
	require.Len(t, st.Recent, 20)
	assert.Equal(t, entries[1199].Model, st.Recent[0].Model)
}

func TestCollectTopModelsTieBreak(t *testing.T) {
	entries := []journal.Entry{{Model: "b"}, {Model: "a"}, {Model: "c"}, {Model: "c"}}
	st := CollectFromEntries(entries, Options{TopN: 2, RecentN: 1})
	assert.Equal(t, []ModelStats{{Model: "c", Runs: 2}, {Model: "a", Runs: 1}}, st.TopModels)
	require.Len(t, st.Recent, 1)
	assert.Equal(t, "c", st.Recent[0].Model)
}
