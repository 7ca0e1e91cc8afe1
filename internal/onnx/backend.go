package onnx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"deepfrog/internal/logger"
	"deepfrog/internal/pipeline"
	"deepfrog/internal/trace"
)

// Resolver turns model and tokenizer identifiers into local directories.
type Resolver interface {
	ResolveModel(ctx context.Context, id, revision string) (string, error)
	ResolveTokenizer(ctx context.Context, id, revision string) (string, error)
}

type Config struct {
	Resolver Resolver
	Session  SessionConfig

	// NewSession overrides session construction.
	NewSession func(modelPath string, cfg SessionConfig) (Session, error)
}

// Backend runs token classification locally on an exported ONNX graph.
type Backend struct {
	cfg Config
	log *logrus.Logger

	mu        sync.Mutex
	model     string
	labels    []string
	tokenizer *WordPieceTokenizer
	session   Session
}

var _ pipeline.Backend = (*Backend)(nil)

func NewBackend(cfg Config) *Backend {
	if cfg.NewSession == nil {
		cfg.NewSession = NewSession
	}
	return &Backend{cfg: cfg, log: logger.GetLogger()}
}

func (b *Backend) Name() string {
	return "local"
}

func (b *Backend) Load(ctx context.Context, req pipeline.Request) error {
	if b.cfg.Resolver == nil {
		return pipeline.NewResolutionError(req.Model, errors.New("no model resolver configured"))
	}
	modelDir, err := b.cfg.Resolver.ResolveModel(ctx, req.Model, req.Revision)
	if err != nil {
		return asResolution(req.Model, err)
	}
	tokDir := modelDir
	if tok := req.TokenizerID(); tok != req.Model {
		tokDir, err = b.cfg.Resolver.ResolveTokenizer(ctx, tok, req.Revision)
		if err != nil {
			return asResolution(tok, err)
		}
	}

	graph, err := findGraph(modelDir)
	if err != nil {
		return pipeline.NewLoadError(req.Model, err)
	}
	labels, err := loadLabels(modelDir)
	if err != nil {
		return pipeline.NewLoadError(req.Model, err)
	}
	tokenizer, err := LoadTokenizer(tokDir)
	if err != nil {
		return pipeline.NewLoadError(req.TokenizerID(), fmt.Errorf("load tokenizer: %w", err))
	}
	session, err := b.cfg.NewSession(graph, b.cfg.Session)
	if err != nil {
		return pipeline.NewLoadError(req.Model, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session != nil {
		_ = b.session.Close()
	}
	b.model = req.Model
	b.labels = labels
	b.tokenizer = tokenizer
	b.session = session
	b.log.WithFields(logrus.Fields{
		"model":  req.Model,
		"graph":  graph,
		"labels": len(labels),
		"vocab":  tokenizer.VocabSize(),
	}).Debug("onnx model ready")
	return nil
}

func (b *Backend) Infer(ctx context.Context, req pipeline.Request) ([]pipeline.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return nil, pipeline.NewLoadError(req.Model, errors.New("model not loaded"))
	}

	done := trace.Mark(ctx, trace.StageTokenize)
	enc := b.tokenizer.Encode(req.Text)
	done()
	if enc.Truncated {
		b.log.WithField("tokens", len(enc.InputIDs)).Warn("input truncated to the maximum sequence length")
	}

	done = trace.Mark(ctx, trace.StageInfer)
	logits, err := b.session.Run(ctx, enc.InputIDs, enc.AttentionMask, enc.TokenTypeIDs)
	done()
	if err != nil {
		return nil, err
	}
	return decode(enc, logits, b.labels)
}

// decode picks the most probable label of every non-special position.
func decode(enc *Encoding, logits [][]float32, labels []string) ([]pipeline.Record, error) {
	if len(logits) != len(enc.InputIDs) {
		return nil, fmt.Errorf("model returned %d logit rows for %d tokens", len(logits), len(enc.InputIDs))
	}
	out := make([]pipeline.Record, 0, len(enc.Pieces))
	for i, p := range enc.Pieces {
		if p.Word < 0 {
			continue
		}
		probs := softmax(logits[i])
		best := argmax(probs)
		if best >= len(labels) {
			return nil, fmt.Errorf("class %d has no label (label map has %d entries)", best, len(labels))
		}
		out = append(out, pipeline.Record{
			Entity:  labels[best],
			Score:   probs[best],
			Index:   i,
			Word:    p.Text,
			Start:   p.Start,
			End:     p.End,
			Subword: p.Subword,
		})
	}
	return out, nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return nil
	}
	err := b.session.Close()
	b.session = nil
	return err
}

func findGraph(dir string) (string, error) {
	for _, rel := range []string{"model.onnx", filepath.Join("onnx", "model.onnx")} {
		p := filepath.Join(dir, rel)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("model missing: no model.onnx in %s", dir)
}

func asResolution(id string, err error) error {
	if errors.Is(err, pipeline.ErrResolution) || errors.Is(err, pipeline.ErrLoad) {
		return err
	}
	return pipeline.NewResolutionError(id, err)
}
