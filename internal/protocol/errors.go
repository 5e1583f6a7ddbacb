package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrFutureMutation indicates a mutation id greater than the client's next
	// expected id: the client and server have desynced. Fatal; the caller must
	// not retry the mutation silently.
	ErrFutureMutation = errors.New("protocol: mutation from the future")
	// ErrUnknownMutation indicates a mutation name outside the supported set.
	ErrUnknownMutation = errors.New("protocol: unknown mutation")
)

// ServiceError carries an operation-scoped error code alongside its cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the machine-readable error code.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}
