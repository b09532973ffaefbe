package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInput         = errors.New("input error")
	ErrCollaborator  = errors.New("collaborator error")
	ErrState         = errors.New("state error")
	ErrResource      = errors.New("resource error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrConfiguration = errors.New("configuration error")
)

// ErrorKind is the coarse classification surfaced to callers and logs.
type ErrorKind string

const (
	KindInput         ErrorKind = "input"
	KindCollaborator  ErrorKind = "collaborator"
	KindState         ErrorKind = "state"
	KindResource      ErrorKind = "resource"
	KindNotFound      ErrorKind = "not_found"
	KindConfiguration ErrorKind = "configuration"
	KindInternal      ErrorKind = "internal"
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrCollaborator
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Input is shorthand for a validation failure raised before any mutation.
func Input(operation, format string, args ...any) error {
	return Wrap(ErrInput, "", operation, fmt.Sprintf(format, args...), nil)
}

// State is shorthand for an operation that is invalid for the current status.
func State(operation, format string, args ...any) error {
	return Wrap(ErrState, "", operation, fmt.Sprintf(format, args...), nil)
}

// Kind maps an error to its taxonomy bucket. Deadline expiry from a
// collaborator call counts as a collaborator failure.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInput):
		return KindInput
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrState):
		return KindState
	case errors.Is(err, ErrResource):
		return KindResource
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrCollaborator), errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindCollaborator
	default:
		return KindInternal
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
