package mind

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyResponse means every attempt produced empty text after filtering.
	ErrEmptyResponse = errors.New("empty response")
	// ErrBusy means the channel already has an active generation.
	ErrBusy = errors.New("generation already in progress")
	// ErrBackendUnavailable wraps network, timeout and protocol failures of the backend.
	ErrBackendUnavailable = errors.New("text generation backend unavailable")
	// ErrPromptUnavailable means the prompt could not be assembled, for example
	// because the channel history could not be fetched.
	ErrPromptUnavailable = errors.New("prompt unavailable")
	// ErrCancelled means the generation was preempted or stopped. It is not a failure.
	ErrCancelled = errors.New("generation cancelled")
)

// GenerationError carries the task context of a failed or cancelled generation.
type GenerationError struct {
	Kind     error
	TaskID   string
	Attempts int
	Err      error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("task %s after %d attempt(s): %v: %v", e.TaskID, e.Attempts, e.Kind, e.Err)
	}
	return fmt.Sprintf("task %s after %d attempt(s): %v", e.TaskID, e.Attempts, e.Kind)
}

// Is matches the sentinel kind.
func (e *GenerationError) Is(target error) bool { return target == e.Kind }

func (e *GenerationError) Unwrap() error { return e.Err }

func newGenerationError(kind error, task *GenerationTask, err error) *GenerationError {
	ge := &GenerationError{Kind: kind, Err: err}
	if task != nil {
		ge.TaskID = task.ID
		ge.Attempts = task.Attempts()
	}
	return ge
}
