package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a referenced task does not exist
	ErrNotFound = errors.New("task not found")

	// ErrConfigDecode is returned when a trigger or action config does not match its type's shape
	ErrConfigDecode = errors.New("invalid config")

	// ErrUnsupportedAction is returned for reserved action kinds that cannot run yet
	ErrUnsupportedAction = errors.New("unsupported action type")

	// ErrUnknownActionType is returned when no handler is registered for an action type
	ErrUnknownActionType = errors.New("unknown action type")

	// ErrInvalidInput is returned when a command is missing required fields
	ErrInvalidInput = errors.New("invalid input")
)

// StoreError wraps a failure of the backing store
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsStoreError reports whether err originated in the backing store
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}

// ConfigDecodeError reports a config that does not match its declared type's shape
type ConfigDecodeError struct {
	Subject string
	Err     error
}

func (e *ConfigDecodeError) Error() string {
	return fmt.Sprintf("invalid %s config: %v", e.Subject, e.Err)
}

func (e *ConfigDecodeError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrConfigDecode) match any ConfigDecodeError
func (e *ConfigDecodeError) Is(target error) bool {
	return target == ErrConfigDecode
}
