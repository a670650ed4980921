package endpoint

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every error produced by an endpoint matches exactly one of these with errors.Is.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrLifecycle     = errors.New("lifecycle error")
	ErrNotSupported  = errors.New("operation not supported")
	ErrSend          = errors.New("send failed")
)

var (
	// ErrNotRunning is returned by Send outside the running state.
	ErrNotRunning = fmt.Errorf("%w: endpoint is not running", ErrNotSupported)
	// ErrConfigNotFound is returned by a ConfigStore that holds nothing for an instance.
	ErrConfigNotFound = errors.New("configuration not found")
)

// Error describes a failed endpoint operation.
type Error struct {
	Kind     error
	Op       string
	Instance string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Instance != "" {
		b.WriteString("endpoint ")
		b.WriteString(e.Instance)
		b.WriteString(": ")
	}
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	switch {
	case e.Err == nil:
		b.WriteString(e.Kind.Error())
	case errors.Is(e.Err, e.Kind):
		b.WriteString(e.Err.Error())
	default:
		b.WriteString(e.Kind.Error())
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// AggregateError combines the failures of several sub-operations.
type AggregateError struct {
	Errors []error
}

func (e *AggregateError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("%d errors occurred: %s", len(e.Errors), strings.Join(msgs, "; "))
}

func (e *AggregateError) Unwrap() []error { return e.Errors }
