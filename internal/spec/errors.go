package spec

import (
	"errors"
	"fmt"
)

// Error kinds, one per failure class of the pipelines
var (
	ErrFileOpen = errors.New("unable to open file")
	ErrCapacity = errors.New("secret will not fit in carrier")
	ErrFormat   = errors.New("not a stegged image or key mismatch")
	ErrName     = errors.New("invalid output file name")
	ErrIO       = errors.New("read/write failure")
)

var kinds = []error{ErrFileOpen, ErrCapacity, ErrFormat, ErrName, ErrIO}

// StageError ties a failure to the pipeline stage that produced it
type StageError struct {
	Stage Stage
	Kind  error
	Err   error
}

// Fail builds a StageError; err may be nil
func Fail(stage Stage, kind error, err error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Err: err}
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Stage, e.Kind)
	}
	if errors.Is(e.Err, e.Kind) {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Stage, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the underlying cause to errors.Is/As
func (e *StageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf returns the error kind carried by err, or nil if it has none
func KindOf(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// StageOf returns the stage a pipeline error came from
func StageOf(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return 0, false
}
