package pipeline

import (
	"errors"
	"fmt"
)

// Kind classifies a per-guest failure.
type Kind string

const (
	KindNone                Kind = ""
	KindMissingPrecondition Kind = "missing_precondition"
	KindNoAudio             Kind = "no_audio"
	KindFetch               Kind = "fetch"
	KindDecode              Kind = "decode"
	KindProcess             Kind = "process"
	KindPublishDegraded     Kind = "publish_degraded"
	KindWriteBack           Kind = "write_back"
	KindSkipped             Kind = "skipped"
	KindCancelled           Kind = "cancelled"
	KindInternal            Kind = "internal"
)

// ErrWriteBack wraps failures writing results to the record store.
var ErrWriteBack = errors.New("status write-back failed")

// StageError is a failure at one pipeline stage.
type StageError struct {
	Kind  Kind
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(kind Kind, stage string, err error) *StageError {
	return &StageError{Kind: kind, Stage: stage, Err: err}
}

// KindOf returns the Kind carried by err, KindInternal for other non-nil
// errors and KindNone for nil.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, ErrWriteBack) {
		return KindWriteBack
	}
	return KindInternal
}
