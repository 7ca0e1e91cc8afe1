package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"deepfrog/internal/journal"
	"deepfrog/internal/stats"
)

type statsOptions struct {
	json   bool
	csv    bool
	watch  bool
	recent int
}

func newStatsCmd(a *app) *cobra.Command {
	var opts statsOptions
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize the run journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.Journal.Path == "" {
				return errors.New("journal is disabled; set journal.path or DEEPFROG_JOURNAL_PATH")
			}
			render := func(w io.Writer) error {
				return renderStatsTo(w, a.cfg.Journal.Path, opts, time.Now().UTC())
			}
			if opts.watch {
				return watchStats(cmd.Context(), cmd.OutOrStdout(), render)
			}
			return render(cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&opts.json, "json", false, "print statistics as JSON")
	cmd.Flags().BoolVar(&opts.csv, "csv", false, "export recent runs as CSV")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "refresh every two seconds")
	cmd.Flags().IntVar(&opts.recent, "recent", 0, "list the last N runs")
	return cmd
}

// watchStats redraws until ctx is done; main cancels it on SIGINT or SIGTERM.
func watchStats(ctx context.Context, w io.Writer, render func(io.Writer) error) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	return watchStatsLoop(w, render, ticker.C, ctx.Done())
}

func watchStatsLoop(w io.Writer, render func(io.Writer) error, ticks <-chan time.Time, done <-chan struct{}) error {
	for {
		var buf strings.Builder
		if err := render(&buf); err != nil {
			return err
		}
		if isTerminal(w) {
			fmt.Fprint(w, "\033[H\033[2J\033[3J")
		}
		fmt.Fprint(w, buf.String())
		select {
		case <-ticks:
		case <-done:
			return nil
		}
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

func renderStatsTo(w io.Writer, path string, opts statsOptions, now time.Time) error {
	entries, err := journal.ParseFile(path)
	if err != nil {
		return err
	}
	st := stats.CollectFromEntries(entries, stats.Options{Now: now, RecentN: opts.recent})
	switch {
	case opts.json:
		if opts.recent <= 0 {
			st.Recent = nil
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	case opts.csv:
		return exportRecentCSV(w, st.Recent)
	case opts.recent > 0:
		printRecent(w, st, now)
		return nil
	default:
		printSummary(w, st)
		return nil
	}
}

func printSummary(w io.Writer, st stats.Stats) {
	fmt.Fprintln(w, "DeepFrog Statistics")
	fmt.Fprintln(w, strings.Repeat("-", 40))
	fmt.Fprintf(w, "Runs:        %d (%d failed, %d in the last 24h)\n", st.Runs.Total, st.Runs.Failed, st.Runs.LastDay)
	fmt.Fprintf(w, "Latency avg: resolve %.1fms | infer %.1fms | total %.1fms\n", st.Latency.ResolveMs, st.Latency.InferMs, st.Latency.TotalMs)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Tasks")
	fmt.Fprintln(w, strings.Repeat("-", 40))
	for _, t := range sortedKeys(st.Tasks) {
		fmt.Fprintf(w, "%-12s %5d\n", t+":", st.Tasks[t])
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Labels")
	fmt.Fprintln(w, strings.Repeat("-", 40))
	for _, l := range sortedKeys(st.Records.ByLabel) {
		v := st.Records.ByLabel[l]
		fmt.Fprintf(w, "%-12s %5d %s\n", l+":", v, progress(v, st.Records.Total))
	}
	fmt.Fprintf(w, "Total:       %d\n\n", st.Records.Total)

	fmt.Fprintln(w, "Top Models")
	fmt.Fprintln(w, strings.Repeat("-", 40))
	for _, m := range st.TopModels {
		fmt.Fprintf(w, "%-40s %d\n", m.Model, m.Runs)
	}
}

func printRecent(w io.Writer, st stats.Stats, now time.Time) {
	fmt.Fprintf(w, "Recent Runs (last %d)\n", len(st.Recent))
	fmt.Fprintln(w, strings.Repeat("-", 100))
	fmt.Fprintf(w, "%-16s %-6s %-40s %-7s %-7s %-10s %s\n", "WHEN", "TASK", "MODEL", "BACKEND", "RECORDS", "LATENCY", "ERROR")
	fmt.Fprintln(w, strings.Repeat("-", 100))
	for _, r := range st.Recent {
		when := r.Timestamp
		if ts, err := time.Parse(time.RFC3339Nano, r.Timestamp); err == nil {
			when = humanize.RelTime(ts, now, "ago", "from now")
		}
		fmt.Fprintf(w, "%-16s %-6s %-40s %-7s %-7d %-8.1fms %s\n", when, r.Task, r.Model, r.Backend, r.Records, r.TotalMs, r.Error)
	}
	fmt.Fprintln(w, strings.Repeat("-", 100))
	fmt.Fprintf(w, "Showing %d of %d total runs\n", len(st.Recent), st.Runs.Total)
}

func progress(v, total int) string {
	if total <= 0 {
		return ""
	}
	p := int(float64(v) / float64(total) * 20)
	if p > 20 {
		p = 20
	}
	return strings.Repeat("█", p) + strings.Repeat("░", 20-p)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func exportRecentCSV(w io.Writer, rows []stats.RecentRun) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp", "task", "model", "backend", "records", "latency_ms", "error"}); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{
			r.Timestamp,
			r.Task,
			r.Model,
			r.Backend,
			strconv.Itoa(r.Records),
			fmt.Sprintf("%.3f", r.TotalMs),
			r.Error,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
