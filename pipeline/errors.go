package pipeline

import (
	"errors"
	"fmt"

	"civicwatch/moderation"
	"civicwatch/storage"
)

// Failure kinds of the submission pipeline. Moderation and storage
// unavailability reuse the sentinels of their packages so callers can test
// with errors.Is regardless of where the failure originated.
var (
	// ErrValidation means a required field was missing or invalid. No
	// external call is made before this is raised.
	ErrValidation = errors.New("validation failed")

	// ErrModerationUnavailable aborts the submission before anything is
	// persisted.
	ErrModerationUnavailable = moderation.ErrUnavailable

	// ErrStorageUnavailable aborts the submission before anything is
	// persisted.
	ErrStorageUnavailable = storage.ErrUnavailable

	// ErrReportPersist aborts the submission; an already-uploaded evidence
	// object stays behind as an unreferenced artifact.
	ErrReportPersist = errors.New("report persistence failed")

	// ErrMediaPersist is the partial-success outcome: the report row exists
	// but its media row does not. Surfaced distinctly so the caller can say
	// "report submitted, evidence not attached".
	ErrMediaPersist = errors.New("media persistence failed")
)

// StageError tags a failure with the stage it occurred in.
type StageError struct {
	Stage State
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(stage State, err error) *StageError {
	return &StageError{Stage: stage, Err: err}
}

// ValidationError carries field-level guidance for the submitter.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing or invalid fields: %v", e.Fields)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}
