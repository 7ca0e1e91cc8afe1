package pipeline

import (
	"errors"
	"fmt"
)

var (
	ErrResolution    = errors.New("model resolution failed")
	ErrLoad          = errors.New("model load failed")
	ErrUnknownTask   = errors.New("unknown task")
	ErrEmptyModel    = errors.New("model identifier is empty")
	ErrNoBackend     = errors.New("no inference backend configured")
	ErrInputTooLarge = errors.New("input text too large")
)

// ResolutionError reports that a model or tokenizer identifier could not be
// turned into usable assets: unknown identifier, no network, missing files.
type ResolutionError struct {
	Model string
	Err   error
}

func NewResolutionError(model string, err error) error {
	return &ResolutionError{Model: model, Err: err}
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve model %q: %v", e.Model, e.Err)
}

func (e *ResolutionError) Unwrap() []error {
	return []error{ErrResolution, e.Err}
}

func (e *ResolutionError) Cause() error {
	return e.Err
}

// LoadError reports a resolved checkpoint that is malformed or does not fit
// the requested task.
type LoadError struct {
	Model string
	Err   error
}

func NewLoadError(model string, err error) error {
	return &LoadError{Model: model, Err: err}
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load model %q: %v", e.Model, e.Err)
}

func (e *LoadError) Unwrap() []error {
	return []error{ErrLoad, e.Err}
}

func (e *LoadError) Cause() error {
	return e.Err
}
