package runtime

import (
	"errors"
	"fmt"
)

// Error types for container operations
var (
	// ErrContainerNotFound is returned when a container is not found
	ErrContainerNotFound = errors.New("container not found")

	// ErrImageNotFound is returned when a container image cannot be pulled
	// or does not exist locally
	ErrImageNotFound = errors.New("image not found")

	// ErrRuntimeUnavailable is returned when the container backend cannot
	// be reached
	ErrRuntimeUnavailable = errors.New("container runtime unavailable")
)

// ContainerError represents an error related to container operations
type ContainerError struct {
	// Err is the underlying error
	Err error
	// ContainerID is the ID of the container
	ContainerID string
	// Message is an optional error message
	Message string
}

// Error returns the error message
func (e *ContainerError) Error() string {
	if e.Message != "" {
		if e.ContainerID != "" {
			return fmt.Sprintf("%s: %s (container: %s)", e.Err, e.Message, e.ContainerID)
		}
		return fmt.Sprintf("%s: %s", e.Err, e.Message)
	}

	if e.ContainerID != "" {
		return fmt.Sprintf("%s (container: %s)", e.Err, e.ContainerID)
	}

	return e.Err.Error()
}

// Unwrap returns the underlying error
func (e *ContainerError) Unwrap() error {
	return e.Err
}

// NewContainerError creates a new container error
func NewContainerError(err error, containerID, message string) *ContainerError {
	return &ContainerError{
		Err:         err,
		ContainerID: containerID,
		Message:     message,
	}
}

// IsContainerNotFound checks if the error is a container not found error
func IsContainerNotFound(err error) bool {
	return errors.Is(err, ErrContainerNotFound)
}

// IsImageNotFound checks if the error is an image not found error
func IsImageNotFound(err error) bool {
	return errors.Is(err, ErrImageNotFound)
}
