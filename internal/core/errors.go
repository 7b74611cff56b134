package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is wrapped by every lookup that finds no row.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateSKU is returned when a product create collides with an
	// existing SKU (case-insensitive).
	ErrDuplicateSKU = errors.New("duplicate sku")

	// ErrInvalidFile rejects uploads that are not CSV text.
	ErrInvalidFile = errors.New("invalid csv upload")

	// ErrFileTooLarge is an ErrInvalidFile for uploads above the size limit.
	ErrFileTooLarge = fmt.Errorf("%w: file too large", ErrInvalidFile)

	// ErrInvalidInput is matched by every ValidationError.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConfirmationRequired guards destructive bulk operations.
	ErrConfirmationRequired = errors.New("confirmation required")
)

// ValidationError lists the problems found in a request body.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid input: " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}
