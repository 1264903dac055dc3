package domain

import (
	"errors"
	"fmt"
)

var (
	ErrExpertNotFound       = errors.New("expert not found")
	ErrInvalidInput         = errors.New("invalid input")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrTemporary            = errors.New("temporary failure")
	ErrNonTransient         = errors.New("non-transient llm failure")
	ErrPatternConflict      = errors.New("cascade and cycle patterns are mutually exclusive")
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
