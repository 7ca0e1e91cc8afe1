package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"deepfrog/internal/backends"
	"deepfrog/internal/config"
	"deepfrog/internal/journal"
	"deepfrog/internal/logger"
	"deepfrog/internal/models"
	"deepfrog/internal/pipeline"
)

// app carries the global flags and the state built from them before a
// command runs.
type app struct {
	configFile  string
	logLevel    string
	backend     string
	revision    string
	aggregation string
	output      string
	model       string
	tokenizer   string
	offline     bool

	cfg      *config.Config
	registry models.Registry

	newBackend func(a *app, progress io.Writer) (pipeline.Backend, error)
}

func newApp() *app {
	return &app{newBackend: buildBackend}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "deepfrog",
		Short: "Token classification for Dutch text",
		Long: `deepfrog runs token classification models (named entities, part of
speech, lemmas) on a sentence and prints the annotations.

Examples:
  deepfrog ner
  deepfrog pos "Ik geef hem een cadeau."
  deepfrog tag --task ner --model ./my-model --output table "Den Haag"
  deepfrog model list`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&a.configFile, "config", "", "config file (default ./deepfrog.yaml)")
	f.StringVar(&a.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	f.StringVar(&a.backend, "backend", "", "inference backend: local or remote")
	f.StringVar(&a.revision, "revision", "", "model revision to download")
	f.StringVar(&a.aggregation, "aggregation", "", "sub-word aggregation: none, simple, first")
	f.StringVarP(&a.output, "output", "o", "plain", "output format: plain, json, table")
	f.StringVar(&a.model, "model", "", "model identifier or local directory")
	f.StringVar(&a.tokenizer, "tokenizer", "", "tokenizer identifier (default: the model)")
	f.BoolVar(&a.offline, "offline", false, "never download, use the cache only")

	root.AddCommand(
		newNERCmd(a),
		newPOSCmd(a),
		newLemmaCmd(a),
		newTagCmd(a),
		newModelCmd(a),
		newStatsCmd(a),
		newDoctorCmd(a),
		newLemmaApplyCmd(),
	)
	return root
}

func (a *app) init() error {
	cfg, err := config.Load(a.configFile)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	logger.SetLevelFromString(cfg.Log.Level)
	if a.backend != "" {
		cfg.Backend = a.backend
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	reg, err := models.LoadEmbeddedRegistry()
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.registry = reg
	return nil
}

func buildBackend(a *app, progress io.Writer) (pipeline.Backend, error) {
	return backends.New(a.cfg, a.backendOptions(progress))
}

func (a *app) backendOptions(progress io.Writer) backends.Options {
	opts := backends.Options{Registry: a.registry, Offline: a.offline}
	if progress != nil {
		opts.OnProgress = progressPrinter(progress)
	}
	return opts
}

func (a *app) revisionOrDefault() string {
	if a.revision != "" {
		return a.revision
	}
	return a.cfg.Hub.Revision
}

// newPipeline builds a pipeline for task using --model, or the registry's
// recommended model for the task.
func (a *app) newPipeline(task pipeline.Task, progress io.Writer) (*pipeline.Pipeline, error) {
	model := a.model
	if model == "" {
		spec, ok := a.registry.Recommended(string(task))
		if !ok {
			return nil, fmt.Errorf("no default model for task %s, pass --model", task)
		}
		model = spec.ID
	}
	aggName := a.aggregation
	if aggName == "" {
		aggName = a.cfg.Pipeline.Aggregation
	}
	agg, err := pipeline.ParseAggregation(aggName)
	if err != nil {
		return nil, err
	}
	backend, err := a.newBackend(a, progress)
	if err != nil {
		return nil, err
	}
	opts := []pipeline.Option{
		pipeline.WithBackend(backend),
		pipeline.WithRevision(a.revisionOrDefault()),
		pipeline.WithAggregation(agg),
		pipeline.WithIgnoreLabels(a.cfg.Pipeline.IgnoreLabels...),
		pipeline.WithMaxBytes(a.cfg.Pipeline.MaxBytes),
	}
	if a.cfg.Journal.Path != "" {
		j, err := journal.NewJSONLLogger(a.cfg.Journal.Path)
		if err != nil {
			_ = backend.Close()
			return nil, err
		}
		opts = append(opts, pipeline.WithJournal(j))
	}
	p, err := pipeline.New(task, model, a.tokenizer, opts...)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return p, nil
}

// progressPrinter redraws one status line per file on w.
func progressPrinter(w io.Writer) models.ProgressCallback {
	var last time.Time
	var current string
	return func(p models.Progress) {
		done := p.Total > 0 && p.Downloaded >= p.Total
		if p.File == current && !done && time.Since(last) < 120*time.Millisecond {
			return
		}
		if p.File != current && current != "" {
			fmt.Fprintln(w)
		}
		current = p.File
		last = time.Now()
		line := fmt.Sprintf("%s %s", p.File, humanize.Bytes(uint64(p.Downloaded)))
		if p.Total > 0 {
			pct := float64(p.Downloaded) * 100 / float64(p.Total)
			line = fmt.Sprintf("%s / %s (%5.1f%%) %.2f MB/s ETA %s", line, humanize.Bytes(uint64(p.Total)), pct, p.SpeedMBps, p.ETA.Truncate(time.Second))
		}
		fmt.Fprintf(w, "\r%s", strings.TrimSpace(line))
		if done {
			fmt.Fprintln(w)
			current = ""
		}
	}
}
