package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Task selects the label space of a token-classification model.
type Task string

const (
	TaskNER   Task = "ner"
	TaskPOS   Task = "pos"
	TaskLemma Task = "lemma"
)

func ParseTask(s string) (Task, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ner", "token-classification":
		return TaskNER, nil
	case "pos":
		return TaskPOS, nil
	case "lemma":
		return TaskLemma, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTask, s)
	}
}

// Request names what to run: model and tokenizer identifiers are opaque
// registry keys or local directories.
type Request struct {
	Task      Task
	Model     string
	Tokenizer string
	Revision  string
	Text      string
}

// TokenizerID returns the tokenizer identifier, defaulting to the model.
func (r Request) TokenizerID() string {
	if r.Tokenizer == "" {
		return r.Model
	}
	return r.Tokenizer
}

// Record is one annotation. Start and End are character offsets into the
// input text, End exclusive. Exactly one of Entity and EntityGroup is set.
type Record struct {
	Entity      string  `json:"entity,omitempty"`
	EntityGroup string  `json:"entity_group,omitempty"`
	Score       float64 `json:"score"`
	Index       int     `json:"index,omitempty"`
	Word        string  `json:"word"`
	Start       int     `json:"start"`
	End         int     `json:"end"`
	Lemma       string  `json:"lemma,omitempty"`

	// Subword marks a continuation piece of the previous word.
	Subword bool `json:"-"`
}

// Label returns the entity or group label.
func (r Record) Label() string {
	if r.EntityGroup != "" {
		return r.EntityGroup
	}
	return r.Entity
}

func (r Record) String() string {
	var b strings.Builder
	if r.EntityGroup != "" {
		b.WriteString("entity_group=" + r.EntityGroup)
	} else {
		b.WriteString("entity=" + r.Entity)
	}
	b.WriteString(" score=" + strconv.FormatFloat(r.Score, 'f', 4, 64))
	if r.Index > 0 {
		b.WriteString(" index=" + strconv.Itoa(r.Index))
	}
	b.WriteString(" word=" + strconv.Quote(r.Word))
	b.WriteString(" start=" + strconv.Itoa(r.Start))
	b.WriteString(" end=" + strconv.Itoa(r.End))
	if r.Lemma != "" {
		b.WriteString(" lemma=" + strconv.Quote(r.Lemma))
	}
	return b.String()
}

// Backend is the inference capability. Load resolves and loads the model and
// tokenizer named by the request; Infer returns one record per sub-word token
// in input order, including tokens labelled "O".
type Backend interface {
	Name() string
	Load(ctx context.Context, req Request) error
	Infer(ctx context.Context, req Request) ([]Record, error)
	Close() error
}
