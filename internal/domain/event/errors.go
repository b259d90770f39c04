package event

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDeserialization marks a payload that is not a well-formed event document.
	ErrDeserialization = errors.New("event deserialization failed")

	// ErrValidation marks a well-formed event missing a mandatory field.
	ErrValidation = errors.New("event validation failed")
)

// DeserializationError wraps the decoder failure for a raw payload
type DeserializationError struct {
	Err error
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("%v: %v", ErrDeserialization, e.Err)
}

// Unwrap lets errors.Is match both ErrDeserialization and the decoder error.
func (e *DeserializationError) Unwrap() []error {
	return []error{ErrDeserialization, e.Err}
}

// ValidationError lists the mandatory fields that were null or empty
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: mandatory fields missing or empty: %s",
		ErrValidation, strings.Join(e.Fields, ", "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}
