package contracts

import (
	"errors"
	"fmt"
)

var (
	// ErrUpstreamUnavailable means the model call kept failing after its retries.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrMalformedResponse means the model output did not match the stage schema
	// even after a corrective re-prompt.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrIntakeIncomplete means intake could not classify the contract.
	ErrIntakeIncomplete = errors.New("intake incomplete")
	// ErrIncompleteAnalysis means a clause is missing a finding at synthesis time.
	ErrIncompleteAnalysis = errors.New("incomplete analysis")
	// ErrCanceled means the run was cancelled before it finished.
	ErrCanceled = errors.New("run canceled")
	// ErrPlaybookNotFound is returned by playbook sources for unknown keys.
	ErrPlaybookNotFound = errors.New("playbook not found")
)

var kinds = []error{
	ErrUpstreamUnavailable,
	ErrMalformedResponse,
	ErrIntakeIncomplete,
	ErrIncompleteAnalysis,
	ErrCanceled,
}

// KindOf returns the taxonomy sentinel err belongs to, or nil.
func KindOf(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// KindName returns a stable snake_case name for the error kind.
func KindName(err error) string {
	switch KindOf(err) {
	case ErrUpstreamUnavailable:
		return "upstream_unavailable"
	case ErrMalformedResponse:
		return "malformed_response"
	case ErrIntakeIncomplete:
		return "intake_incomplete"
	case ErrIncompleteAnalysis:
		return "incomplete_analysis"
	case ErrCanceled:
		return "canceled"
	}
	return "internal"
}

// StageError reports which stage of a run failed and why. It unwraps to both
// the error kind and the underlying cause.
type StageError struct {
	Stage Stage
	Kind  error
	Err   error
}

func (e *StageError) Error() string {
	if e.Kind == nil || errors.Is(e.Err, e.Kind) {
		return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("stage %s failed: %v: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() []error {
	if e.Kind == nil {
		return []error{e.Err}
	}
	return []error{e.Kind, e.Err}
}

// NewStageError classifies err and attaches the stage.
func NewStageError(stage Stage, err error) *StageError {
	var se *StageError
	if errors.As(err, &se) {
		return se
	}
	return &StageError{Stage: stage, Kind: KindOf(err), Err: err}
}
