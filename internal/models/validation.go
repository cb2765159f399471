package models

import (
	"errors"
	"fmt"
	"strings"
)

// Validation sentinel errors.
var (
	ErrInvalidStreamID  = errors.New("stream id must be positive")
	ErrInvalidMessageID = errors.New("message id must be positive")
	ErrInvalidTopic     = errors.New("topic must not have leading or trailing whitespace")
	ErrTopicTooLong     = fmt.Errorf("topic exceeds %d characters", MaxTopicLength)
	ErrInvalidPolicy    = errors.New("unknown visibility policy")
)

// FieldError ties a validation failure to the path of the offending field,
// e.g. "events[2].message.topic".
type FieldError struct {
	Path string
	Err  error
}

func (e FieldError) Error() string {
	if e.Path == "" {
		return e.Err.Error()
	}
	return e.Path + ": " + e.Err.Error()
}

func (e FieldError) Unwrap() error { return e.Err }

// ValidationErrors collects field failures. errors.Is matches any of the
// underlying sentinels.
type ValidationErrors struct {
	fields []FieldError
}

// Add records err under path. Nested ValidationErrors are flattened with
// their paths prefixed. A nil err is ignored.
func (v *ValidationErrors) Add(path string, err error) {
	if err == nil {
		return
	}
	var nested *ValidationErrors
	if errors.As(err, &nested) {
		for _, f := range nested.fields {
			v.fields = append(v.fields, FieldError{Path: joinPath(path, f.Path), Err: f.Err})
		}
		return
	}
	v.fields = append(v.fields, FieldError{Path: path, Err: err})
}

// AddMessage records a failure that has no sentinel.
func (v *ValidationErrors) AddMessage(path, message string) {
	if message == "" {
		return
	}
	v.Add(path, errors.New(message))
}

// Fields returns the recorded failures in the order they were added.
func (v *ValidationErrors) Fields() []FieldError {
	if v == nil {
		return nil
	}
	return v.fields
}

// Err returns v as an error, or nil when nothing was recorded.
func (v *ValidationErrors) Err() error {
	if v == nil || len(v.fields) == 0 {
		return nil
	}
	return v
}

func (v *ValidationErrors) Error() string {
	if v == nil || len(v.fields) == 0 {
		return "validation failed"
	}
	parts := make([]string, len(v.fields))
	for i, f := range v.fields {
		parts[i] = f.Error()
	}
	return strings.Join(parts, "; ")
}

// Unwrap exposes every field failure to errors.Is and errors.As.
func (v *ValidationErrors) Unwrap() []error {
	if v == nil {
		return nil
	}
	errs := make([]error, len(v.fields))
	for i, f := range v.fields {
		errs[i] = f
	}
	return errs
}

func joinPath(prefix, path string) string {
	switch {
	case prefix == "":
		return path
	case path == "":
		return prefix
	case strings.HasPrefix(path, "["):
		return prefix + path
	default:
		return prefix + "." + path
	}
}
