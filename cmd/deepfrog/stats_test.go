package main

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"deepfrog/internal/journal"
	"deepfrog/internal/stats"
)

func writeJournal(t *testing.T, entries ...journal.Entry) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	j, err := journal.NewJSONLLogger(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if err := j.Log(e); err != nil {
			t.Fatal(err)
		}
	}
	return path
}

func TestExportRecentCSV(t *testing.T) {
	rows := []stats.RecentRun{{Timestamp: "2026-01-01T00:00:00Z", Task: "ner", Model: "org/m", Backend: "local", Records: 2, TotalMs: 12.5}}
	var b bytes.Buffer
	if err := exportRecentCSV(&b, rows); err != nil {
		t.Fatal(err)
	}
	want := "timestamp,task,model,backend,records,latency_ms,error\n2026-01-01T00:00:00Z,ner,org/m,local,2,12.500,\n"
	if b.String() != want {
		t.Fatalf("unexpected csv: %q", b.String())
	}
}

func TestRenderStatsSummaryAndRecent(t *testing.T) {
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	path := writeJournal(t,
		journal.Entry{Timestamp: "2026-01-02T11:00:00Z", Task: "ner", Model: "org/ner", Backend: "local", RecordCount: 2, Labels: map[string]int{"B-loc": 2}, TotalMs: 10},
		journal.Entry{Timestamp: "2026-01-02T11:30:00Z", Task: "pos", Model: "org/pos", Backend: "remote", Error: "resolve model \"org/pos\": boom", TotalMs: 30},
	)

	var b bytes.Buffer
	if err := renderStatsTo(&b, path, statsOptions{}, now); err != nil {
		t.Fatal(err)
	}
	out := b.String()
	for _, want := range []string{"Runs:        2 (1 failed, 2 in the last 24h)", "total 20.0ms", "B-loc:", "org/ner"} {
		if !strings.Contains(out, want) {
			t.Fatalf("summary missing %q:\n%s", want, out)
		}
	}

	b.Reset()
	if err := renderStatsTo(&b, path, statsOptions{recent: 1}, now); err != nil {
		t.Fatal(err)
	}
	out = b.String()
	if !strings.Contains(out, "org/pos") || strings.Contains(out, "org/ner ") || !strings.Contains(out, "30 minutes ago") {
		t.Fatalf("unexpected recent output:\n%s", out)
	}
	if !strings.Contains(out, "Showing 1 of 2 total runs") {
		t.Fatalf("missing footer:\n%s", out)
	}
}

func TestRenderStatsMissingJournal(t *testing.T) {
	var b bytes.Buffer
	if err := renderStatsTo(&b, filepath.Join(t.TempDir(), "none.jsonl"), statsOptions{json: true}, time.Now()); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(b.String(), "\"total\": 0") {
		t.Fatalf("unexpected json: %s", b.String())
	}
}

func TestWatchStatsLoopCancellation(t *testing.T) {
	calls := 0
	ticks := make(chan time.Time, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ticks <- time.Now()
	var b bytes.Buffer
	err := watchStatsLoop(&b, func(w io.Writer) error {
		calls++
		if calls == 2 {
			cancel()
		}
		_, err := w.Write([]byte("frame\n"))
		return err
	}, ticks, ctx.Done())
	if err != nil {
		t.Fatal(err)
	}
	if calls != 2 || b.String() != "frame\nframe\n" {
		t.Fatalf("unexpected loop result: calls=%d out=%q", calls, b.String())
	}
}

func TestWatchStatsStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	var b bytes.Buffer
	err := watchStats(ctx, &b, func(w io.Writer) error {
		calls++
		_, err := w.Write([]byte("frame\n"))
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 1 || b.String() != "frame\n" {
		t.Fatalf("unexpected watch result: calls=%d out=%q", calls, b.String())
	}
}
