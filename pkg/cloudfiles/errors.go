package cloudfiles

import (
	"errors"
	"fmt"
)

// Error types
var (
	// ErrNoSuchObject indicates the object does not exist (or has expired)
	ErrNoSuchObject = errors.New("no such object")

	// ErrNoSuchContainer indicates the container does not exist
	ErrNoSuchContainer = errors.New("no such container")

	// ErrContainerNotEmpty indicates a delete of a container that still holds objects
	ErrContainerNotEmpty = errors.New("container not empty")

	// ErrInvalidMetadata indicates a metadata key outside the accepted prefixes
	ErrInvalidMetadata = errors.New("invalid metadata key")

	// ErrInvalidCORS indicates a CORS key outside the accepted set
	ErrInvalidCORS = errors.New("invalid cors key")

	// ErrInvalidRange indicates a negative offset, size or chunk size
	ErrInvalidRange = errors.New("invalid range")

	// ErrIntegrity indicates the server's content hash differs from the local one
	ErrIntegrity = errors.New("integrity check failed")

	// ErrAuthentication indicates the request was still unauthorized after re-authenticating
	ErrAuthentication = errors.New("authentication failed")

	// ErrSourceConsumed indicates a one-shot reader source was read twice
	ErrSourceConsumed = errors.New("source already consumed")
)

// ValidationError reports a rejected input key before any request is sent
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: %q", e.Err, e.Field)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IntegrityError carries the two digests that failed to match
type IntegrityError struct {
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%v: local md5 %s, server etag %s", ErrIntegrity, e.Expected, e.Actual)
}

func (e *IntegrityError) Unwrap() error {
	return ErrIntegrity
}

// StatusError is an unexpected non-2xx response
type StatusError struct {
	StatusCode int
	Method     string
	URL        string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.URL, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
}

// ObjectError represents an error related to object operations
type ObjectError struct {
	Container string
	Object    string
	Op        string
	Err       error
}

func (e *ObjectError) Error() string {
	return fmt.Sprintf("object operation %s failed for %s/%s: %v", e.Op, e.Container, e.Object, e.Err)
}

func (e *ObjectError) Unwrap() error {
	return e.Err
}

// ContainerError represents an error related to container operations
type ContainerError struct {
	Container string
	Op        string
	Err       error
}

func (e *ContainerError) Error() string {
	return fmt.Sprintf("container operation %s failed for %s: %v", e.Op, e.Container, e.Err)
}

func (e *ContainerError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err means the object or container is absent
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNoSuchObject) || errors.Is(err, ErrNoSuchContainer)
}

// StatusCode extracts the HTTP status from err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
