package stats

import (
	"sort"
	"strings"
	"time"

	"deepfrog/internal/journal"
)

type Stats struct {
	Runs      RunStats       `json:"runs"`
	Records   RecordStats    `json:"records"`
	Latency   LatencyStats   `json:"latency"`
	TopModels []ModelStats   `json:"top_models"`
	Tasks     map[string]int `json:"tasks"`
	Recent    []RecentRun    `json:"recent,omitempty"`
}

type RunStats struct {
	Total   int `json:"total"`
	Failed  int `json:"failed"`
	LastDay int `json:"last_day"`
}

type RecordStats struct {
	Total   int            `json:"total"`
	ByLabel map[string]int `json:"by_label"`
}

type LatencyStats struct {
	ResolveMs float64 `json:"resolve_ms"`
	InferMs   float64 `json:"infer_ms"`
	TotalMs   float64 `json:"total_ms"`
}

type ModelStats struct {
	Model string `json:"model"`
	Runs  int    `json:"runs"`
}

type RecentRun struct {
	Timestamp string  `json:"timestamp"`
	Task      string  `json:"task"`
	Model     string  `json:"model"`
	Backend   string  `json:"backend"`
	Records   int     `json:"records"`
	TotalMs   float64 `json:"total_ms"`
	Error     string  `json:"error,omitempty"`
}

type Options struct {
	Now     time.Time
	TopN    int
	RecentN int
}

func CollectFromEntries(entries []journal.Entry, opts Options) Stats {
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	topN := opts.TopN
	if topN <= 0 {
		topN = 5
	}
	recentN := opts.RecentN
	if recentN <= 0 {
		recentN = 20
	}

	out := Stats{
		Records: RecordStats{ByLabel: map[string]int{}},
		Tasks:   map[string]int{},
	}

	modelRuns := map[string]int{}
	var resolveSum, inferSum, totalSum float64
	var resolveCount, inferCount, totalCount int
	recent := make([]RecentRun, 0, len(entries))

	for _, e := range entries {
		out.Runs.Total++
		if e.Error != "" {
			out.Runs.Failed++
		}
		if m := strings.TrimSpace(e.Model); m != "" {
			modelRuns[m]++
		}
		if e.Task != "" {
			out.Tasks[e.Task]++
		}

		out.Records.Total += e.RecordCount
		for label, n := range e.Labels {
			label = strings.TrimSpace(label)
			if label == "" {
				continue
			}
			out.Records.ByLabel[label] += n
		}

		if e.Timestamp != "" {
			if ts, err := time.Parse(time.RFC3339Nano, e.Timestamp); err == nil {
				delta := now.Sub(ts)
				if delta >= 0 && delta < 24*time.Hour {
					out.Runs.LastDay++
				}
			}
		}

		if e.ResolveMs > 0 {
			resolveSum += e.ResolveMs
			resolveCount++
		}
		if e.InferMs > 0 {
			inferSum += e.InferMs
			inferCount++
		}
		if e.TotalMs > 0 {
			totalSum += e.TotalMs
			totalCount++
		}

		recent = append(recent, RecentRun{
			Timestamp: e.Timestamp,
			Task:      e.Task,
			Model:     e.Model,
			Backend:   e.Backend,
			Records:   e.RecordCount,
			TotalMs:   e.TotalMs,
			Error:     e.Error,
		})
	}

	if resolveCount > 0 {
		out.Latency.ResolveMs = resolveSum / float64(resolveCount)
	}
	if inferCount > 0 {
		out.Latency.InferMs = inferSum / float64(inferCount)
	}
	if totalCount > 0 {
		out.Latency.TotalMs = totalSum / float64(totalCount)
	}

	for m, c := range modelRuns {
		out.TopModels = append(out.TopModels, ModelStats{Model: m, Runs: c})
	}
	sort.Slice(out.TopModels, func(i, j int) bool {
		if out.TopModels[i].Runs == out.TopModels[j].Runs {
			return out.TopModels[i].Model < out.TopModels[j].Model
		}
		return out.TopModels[i].Runs > out.TopModels[j].Runs
	})
	if len(out.TopModels) > topN {
		out.TopModels = out.TopModels[:topN]
	}

	for i := len(recent) - 1; i >= 0 && len(out.Recent) < recentN; i-- {
		out.Recent = append(out.Recent, recent[i])
	}
	return out
}
