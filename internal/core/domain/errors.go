package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrDuplicateKey      = errors.New("duplicate key")
	ErrInvalidQuery      = errors.New("invalid query")
	ErrNotFound          = errors.New("not found")
	ErrMethodTimeout     = errors.New("search method timeout")
	ErrTemporary         = errors.New("temporary failure")
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
