package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrChainConflict means the caller's previous message id is not the chat's
	// current tail. Re-read the tail and retry, or give up.
	ErrChainConflict = errors.New("chain conflict")
	ErrNotFound      = errors.New("not found")
	ErrEmptyContent  = errors.New("empty content")

	ErrMalformedFragment  = errors.New("malformed fragment")
	ErrBrokenChain        = errors.New("broken chain")
	ErrPipelineStepFailed = errors.New("pipeline step failed")
	ErrInvalidArgument    = errors.New("invalid argument")

	// ErrCancelled is a terminal run outcome, not a failure.
	ErrCancelled = errors.New("cancelled")
)

type MalformedFragmentError struct {
	Index  int
	Kind   FragmentKind
	Reason string
}

func (e *MalformedFragmentError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("malformed fragment at %d: %s", e.Index, e.Reason)
	}
	return fmt.Sprintf("malformed %s fragment at %d: %s", e.Kind, e.Index, e.Reason)
}

func (e *MalformedFragmentError) Unwrap() error { return ErrMalformedFragment }

// BrokenChainError is returned by history reconstruction when a previous
// message id points at a record that no longer exists.
type BrokenChainError struct {
	ChatID    string
	MissingID string
	// ReferencedBy is the message whose previous id dangles; empty when the
	// chat tail itself is dangling.
	ReferencedBy string
}

func (e *BrokenChainError) Error() string {
	if e.ReferencedBy == "" {
		return fmt.Sprintf("broken chain in chat %s: tail %s is missing", e.ChatID, e.MissingID)
	}
	return fmt.Sprintf("broken chain in chat %s: message %s references missing %s", e.ChatID, e.ReferencedBy, e.MissingID)
}

func (e *BrokenChainError) Unwrap() error { return ErrBrokenChain }

type StepFailedError struct {
	Step string
	Err  error
}

func (e *StepFailedError) Error() string {
	return fmt.Sprintf("step %q failed: %v", e.Step, e.Err)
}

func (e *StepFailedError) Unwrap() []error { return []error{ErrPipelineStepFailed, e.Err} }
