package manifest

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every failure produced while building a partition database
// wraps exactly one of these, so callers can match with errors.Is.
var (
	// ErrInvalidInput is returned when a manifest list or its original
	// directory is not a regular file or directory.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidConditional is returned when a list entry's conditional
	// attribute is neither an enabling nor a disabling value.
	ErrInvalidConditional = errors.New("invalid conditional")

	// ErrMissingCapability is returned when a non-reserved partition
	// declares neither services nor IRQs.
	ErrMissingCapability = errors.New("missing service or irq")

	// ErrDuplicateServiceID is returned when a service ID is declared twice.
	ErrDuplicateServiceID = errors.New("duplicate service id")

	// ErrDuplicatePID is returned when a partition ID is used twice.
	ErrDuplicatePID = errors.New("duplicate partition id")

	// ErrDuplicateName is returned when two partitions share a name.
	ErrDuplicateName = errors.New("duplicate partition name")

	// ErrMissingField is returned when a mandatory attribute is absent.
	ErrMissingField = errors.New("missing field")

	// ErrInvalidField is returned when an attribute has the wrong type or
	// an unknown enumeration value.
	ErrInvalidField = errors.New("invalid field")

	// ErrBackendConflict is returned when the requested SPM backend cannot
	// host a partition's execution model.
	ErrBackendConflict = errors.New("backend conflict")

	// ErrUnsupportedIsolation is returned when the backend does not support
	// the requested isolation level.
	ErrUnsupportedIsolation = errors.New("unsupported isolation level")

	// ErrCapacityExceeded is returned when there are more stateless services
	// than stateless handle slots.
	ErrCapacityExceeded = errors.New("stateless handle capacity exceeded")

	// ErrInvalidHandle is returned for a stateless handle outside the slot
	// range or of an unsupported form.
	ErrInvalidHandle = errors.New("invalid stateless handle")

	// ErrDuplicateHandle is returned when two services pin the same
	// stateless handle.
	ErrDuplicateHandle = errors.New("duplicate stateless handle")
)

// Error describes a build failure together with the partition and service
// it was found in.
type Error struct {
	Kind      error
	Partition string
	Service   string
	Detail    string
}

// Error formats the kind, the location and the detail message.
func (e *Error) Error() string {
	if e == nil {
		return "manifest error <nil>"
	}

	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Partition != "" {
		b.WriteString(fmt.Sprintf(" in partition %s", e.Partition))
	}
	if e.Service != "" {
		b.WriteString(fmt.Sprintf(" (service %s)", e.Service))
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

// Unwrap returns the error kind.
func (e *Error) Unwrap() error {
	return e.Kind
}

// Errorf builds an Error of the given kind with a formatted detail message.
func Errorf(kind error, partition, format string, args ...any) *Error {
	return &Error{Kind: kind, Partition: partition, Detail: fmt.Sprintf(format, args...)}
}

// ServiceErrorf builds an Error of the given kind located at a service.
func ServiceErrorf(kind error, partition, service, format string, args ...any) *Error {
	return &Error{Kind: kind, Partition: partition, Service: service, Detail: fmt.Sprintf(format, args...)}
}
