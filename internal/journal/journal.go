package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry is one pipeline run.
type Entry struct {
	Timestamp   string         `json:"timestamp"`
	Trace       string         `json:"trace,omitempty"`
	Task        string         `json:"task"`
	Model       string         `json:"model"`
	Tokenizer   string         `json:"tokenizer,omitempty"`
	Backend     string         `json:"backend"`
	Aggregation string         `json:"aggregation,omitempty"`
	InputChars  int            `json:"input_chars"`
	RecordCount int            `json:"record_count"`
	Labels      map[string]int `json:"labels,omitempty"`
	ResolveMs   float64        `json:"resolve_ms,omitempty"`
	InferMs     float64        `json:"infer_ms,omitempty"`
	TotalMs     float64        `json:"total_ms"`
	Error       string         `json:"error,omitempty"`
}

type Logger interface {
	Log(entry Entry) error
}

type JSONLLogger struct {
	path string
	mu   sync.Mutex
}

func NewJSONLLogger(path string) (*JSONLLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create journal: %w", err)
	}
	_ = f.Close()
	return &JSONLLogger{path: path}, nil
}

func (l *JSONLLogger) Path() string {
	return l.path
}

func (l *JSONLLogger) Log(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	if err := enc.Encode(entry); err != nil {
		return fmt.Errorf("write journal: %w", err)
	}
	return nil
}
