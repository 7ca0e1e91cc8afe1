package trace

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type traceContextKeyType string

const traceContextKey traceContextKeyType = "trace"

type Stage string

const (
	StageResolve  Stage = "resolve"
	StageTokenize Stage = "tokenize"
	StageInfer    Stage = "infer"
	StagePost     Stage = "post"
)

var stageOrder = []Stage{StageResolve, StageTokenize, StageInfer, StagePost}

type span struct {
	start, end time.Time
}

// Trace records wall-clock timings of the stages of one pipeline run. It is
// safe for concurrent use; a nil *Trace ignores all calls.
type Trace struct {
	ID    string
	Start time.Time

	mu     sync.Mutex
	stages map[Stage]span

	logOnce sync.Once
}

func New() *Trace {
	return &Trace{
		ID:     newTraceID(),
		Start:  time.Now(),
		stages: map[Stage]span{},
	}
}

func newTraceID() string {
	return uuid.NewString()
}

func WithContext(ctx context.Context, tr *Trace) context.Context {
	if tr == nil {
		return ctx
	}
	return context.WithValue(ctx, traceContextKey, tr)
}

func FromContext(ctx context.Context) (*Trace, bool) {
	if ctx == nil {
		return nil, false
	}
	tr, ok := ctx.Value(traceContextKey).(*Trace)
	return tr, ok
}

// Begin marks the start of stage and returns a func that marks its end.
func (t *Trace) Begin(stage Stage) func() {
	if t == nil {
		return func() {}
	}
	t.mu.Lock()
	t.stages[stage] = span{start: time.Now()}
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		s := t.stages[stage]
		s.end = time.Now()
		t.stages[stage] = s
		t.mu.Unlock()
	}
}

// Mark starts stage on the trace carried by ctx, if any.
func Mark(ctx context.Context, stage Stage) func() {
	tr, _ := FromContext(ctx)
	return tr.Begin(stage)
}

func (t *Trace) Duration(stage Stage) time.Duration {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.stages[stage]
	return durationBetween(s.start, s.end)
}

func (t *Trace) Total(end time.Time) time.Duration {
	if t == nil {
		return 0
	}
	return durationBetween(t.Start, end)
}

// LogAt writes the stage timings once, at debug level.
func (t *Trace) LogAt(log *logrus.Logger, end time.Time) {
	if t == nil || log == nil {
		return
	}
	t.logOnce.Do(func() {
		fields := logrus.Fields{"trace": t.ID, "total": t.Total(end)}
		for _, stage := range stageOrder {
			if d := t.Duration(stage); d > 0 {
				fields[string(stage)] = d
			}
		}
		log.WithFields(fields).Debug("pipeline run timings")
	})
}

func durationBetween(start, end time.Time) time.Duration {
	if start.IsZero() || end.IsZero() || end.Before(start) {
		return 0
	}
	return end.Sub(start)
}
