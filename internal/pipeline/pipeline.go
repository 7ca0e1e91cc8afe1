package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"deepfrog/internal/journal"
	"deepfrog/internal/logger"
	"deepfrog/internal/trace"
)

const defaultMaxBytes = 32 * 1024

type Option func(*Pipeline)

func WithBackend(b Backend) Option {
	return func(p *Pipeline) { p.backend = b }
}

func WithRevision(rev string) Option {
	return func(p *Pipeline) { p.req.Revision = rev }
}

func WithAggregation(a Aggregation) Option {
	return func(p *Pipeline) { p.aggregation = a }
}

// WithIgnoreLabels replaces the default ["O"]. Calling it with no labels
// keeps every record.
func WithIgnoreLabels(labels ...string) Option {
	return func(p *Pipeline) {
		p.ignore = make(map[string]struct{}, len(labels))
		for _, l := range labels {
			if l = strings.TrimSpace(l); l != "" {
				p.ignore[l] = struct{}{}
			}
		}
	}
}

func WithMaxBytes(n int) Option {
	return func(p *Pipeline) { p.maxBytes = n }
}

func WithJournal(j journal.Logger) Option {
	return func(p *Pipeline) { p.journal = j }
}

func WithLogger(l *logrus.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// Pipeline binds a task, a model and a tokenizer to an inference backend.
// Loading happens on the first Run; a failed load is retried on the next one.
type Pipeline struct {
	req         Request
	backend     Backend
	aggregation Aggregation
	ignore      map[string]struct{}
	maxBytes    int
	journal     journal.Logger
	log         *logrus.Logger

	mu     sync.Mutex
	loaded bool
}

// New builds a pipeline for task using model and tokenizer identifiers. An
// empty tokenizer means the model's own.
func New(task Task, model, tokenizer string, opts ...Option) (*Pipeline, error) {
	task, err := ParseTask(string(task))
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(model) == "" {
		return nil, ErrEmptyModel
	}
	p := &Pipeline{
		req:         Request{Task: task, Model: model, Tokenizer: tokenizer},
		aggregation: AggregationNone,
		ignore:      map[string]struct{}{"O": {}},
		maxBytes:    defaultMaxBytes,
		log:         logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.backend == nil {
		return nil, ErrNoBackend
	}
	if task == TaskLemma {
		p.aggregation = AggregationFirst
	}
	return p, nil
}

func (p *Pipeline) Task() Task {
	return p.req.Task
}

func (p *Pipeline) Model() string {
	return p.req.Model
}

func (p *Pipeline) Tokenizer() string {
	return p.req.TokenizerID()
}

func (p *Pipeline) Aggregation() Aggregation {
	return p.aggregation
}

// Run annotates text. Records come back in input order with character
// offsets; empty text yields an empty slice once the model has loaded.
func (p *Pipeline) Run(ctx context.Context, text string) ([]Record, error) {
	tr := trace.New()
	ctx = trace.WithContext(ctx, tr)

	records, err := p.run(ctx, text)

	end := time.Now()
	tr.LogAt(p.log, end)
	p.writeJournal(tr, end, text, records, err)
	return records, err
}

func (p *Pipeline) run(ctx context.Context, text string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.maxBytes > 0 && len(text) > p.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrInputTooLarge, len(text), p.maxBytes)
	}

	done := trace.Mark(ctx, trace.StageResolve)
	err := p.load(ctx)
	done()
	if err != nil {
		return nil, err
	}
	if text == "" {
		return []Record{}, nil
	}

	req := p.req
	req.Text = text
	raw, err := p.backend.Infer(ctx, req)
	if err != nil {
		return nil, err
	}

	done = trace.Mark(ctx, trace.StagePost)
	defer done()
	runes := []rune(text)
	for i := range raw {
		if !raw[i].Subword && strings.HasPrefix(raw[i].Word, "##") {
			raw[i].Subword = true
		}
	}
	records := aggregate(runes, raw, p.aggregation)
	records = filterLabels(records, p.ignore)
	if p.req.Task == TaskLemma {
		lemmatize(p.log, records)
	}
	if records == nil {
		records = []Record{}
	}
	return records, nil
}

func (p *Pipeline) load(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loaded {
		return nil
	}
	if err := p.backend.Load(ctx, p.req); err != nil {
		return err
	}
	p.loaded = true
	p.log.WithFields(logrus.Fields{
		"task":      p.req.Task,
		"model":     p.req.Model,
		"tokenizer": p.req.TokenizerID(),
		"backend":   p.backend.Name(),
	}).Info("model loaded")
	return nil
}

func (p *Pipeline) writeJournal(tr *trace.Trace, end time.Time, text string, records []Record, runErr error) {
	if p.journal == nil {
		return
	}
	entry := journal.Entry{
		Timestamp:   end.UTC().Format(time.RFC3339Nano),
		Trace:       tr.ID,
		Task:        string(p.req.Task),
		Model:       p.req.Model,
		Tokenizer:   p.req.TokenizerID(),
		Backend:     p.backend.Name(),
		Aggregation: string(p.aggregation),
		InputChars:  utf8.RuneCountInString(text),
		RecordCount: len(records),
		ResolveMs:   millis(tr.Duration(trace.StageResolve)),
		InferMs:     millis(tr.Duration(trace.StageInfer)),
		TotalMs:     millis(tr.Total(end)),
	}
	if len(records) > 0 {
		entry.Labels = map[string]int{}
		for _, r := range records {
			entry.Labels[r.Label()]++
		}
	}
	if runErr != nil {
		entry.Error = runErr.Error()
	}
	if err := p.journal.Log(entry); err != nil {
		p.log.Warnf("journal write failed: %v", err)
	}
}

func (p *Pipeline) Close() error {
	return p.backend.Close()
}

// Invoke runs a one-shot pipeline: build, run once, close.
func Invoke(ctx context.Context, backend Backend, task Task, model, tokenizer, text string, opts ...Option) ([]Record, error) {
	opts = append([]Option{WithBackend(backend)}, opts...)
	p, err := New(task, model, tokenizer, opts...)
	if err != nil {
		return nil, err
	}
	defer p.Close()
	return p.Run(ctx, text)
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
