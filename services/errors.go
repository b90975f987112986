package services

import "fmt"

// ValidationError is a blocking, user-recoverable error: a missing required
// selection, a repeater min-entries or required-field violation, or a
// malformed repeater payload. Navigation does not advance past one.
type ValidationError struct {
	Msg string
	// IncompleteEntries is the number of branchable repeater entries whose
	// branch is not yet complete, when that is what blocked the advance.
	IncompleteEntries int
}

func (e *ValidationError) Error() string { return e.Msg }

func newValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// PersistenceError reports a failed save. It is surfaced to the user but
// never rolls back the optimistically advanced navigation position.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failed during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// GenerationError reports a failed AI generation. The cached analysis, if
// any, is left untouched.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("analysis generation failed: %v", e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }
