package mailsync

import (
	"errors"
	"fmt"
)

// ErrInvalidInput is returned for requests that are malformed before any
// gateway is contacted (empty folder, no recipients, same source and
// target).
var ErrInvalidInput = errors.New("invalid input")

// Mutation steps reported by StepError.
const (
	StepResolveTrash = "resolve_trash"
	StepRelocate     = "relocate"
	StepMarkDeleted  = "mark_deleted"
	StepOverlay      = "overlay"
	StepSetFlags     = "set_flags"
)

// ReadError describes a failed read. Folder and Page identify the request
// for diagnostics; Page is zero for count and folder listing requests.
type ReadError struct {
	Folder string
	Page   int
	Err    error
}

func (e *ReadError) Error() string {
	if e.Page > 0 {
		return fmt.Sprintf("reading %s page %d: %v", e.Folder, e.Page, e.Err)
	}
	if e.Folder != "" {
		return fmt.Sprintf("reading %s: %v", e.Folder, e.Err)
	}
	return fmt.Sprintf("reading folders: %v", e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// StepError describes a failed mutation. Step names the part that failed
// so callers can retry just that part; Folder is where the message still
// is.
type StepError struct {
	Step   string
	ID     string
	Folder string
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s %s (still in %s): %v", e.Step, e.ID, e.Folder, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// IsStep reports whether err is a StepError for step.
func IsStep(err error, step string) bool {
	var se *StepError
	return errors.As(err, &se) && se.Step == step
}
