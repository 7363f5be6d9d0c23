// Package errors defines the error kinds fbinst's components return and a
// small chaining wrapper modeled on the teacher's DriverError pattern: a
// sentinel carries a short class of failure, and WithMessage/WrapError build
// a chain of context onto it without losing the sentinel for errors.Is.
package errors

import "fmt"

// DriverError is the interface every fbinst error satisfies. It behaves like
// the standard error interface but also lets callers attach progressively
// more specific context as an error travels up through the component layers.
type DriverError interface {
	error
	WithMessage(message string) DriverError
	WrapError(err error) DriverError
}

// Kind is a short, stable class of failure. Kind values are the sentinels
// components compare against with errors.Is; the human-readable text comes
// from the chain built on top via WithMessage/WrapError.
type Kind string

const InvalidArgument = Kind("invalid argument")
const DiskTooSmall = Kind("disk too small")
const NoSpace = Kind("no space left in catalog")
const NotFound = Kind("no such file in catalog")
const InvalidArchive = Kind("not a valid fb archive")
const VersionMismatch = Kind("unsupported fb version")
const InvalidMenu = Kind("invalid menu script")
const InvalidUnitSize = Kind("invalid unit size")
const InvalidMbr = Kind("not an fb-formatted disk")
const IoError = Kind("i/o error")
const LockFailure = Kind("failed to lock device")
const OutOfMemory = Kind("out of memory")
const SyslinuxInvalid = Kind("not a recognized syslinux boot loader image")

func (k Kind) Error() string {
	return string(k)
}

func (k Kind) WithMessage(message string) DriverError {
	return chainedError{
		message: fmt.Sprintf("%s: %s", string(k), message),
		kind:    k,
	}
}

func (k Kind) WrapError(err error) DriverError {
	return chainedError{
		message: fmt.Sprintf("%s: %s", string(k), err.Error()),
		kind:    k,
		wrapped: err,
	}
}

// -----------------------------------------------------------------------------

type chainedError struct {
	message string
	kind     Kind
	wrapped  error
}

func (e chainedError) Error() string {
	return e.message
}

func (e chainedError) WithMessage(message string) DriverError {
	return chainedError{
		message: fmt.Sprintf("%s: %s", e.message, message),
		kind:    e.kind,
		wrapped: e.wrapped,
	}
}

func (e chainedError) WrapError(err error) DriverError {
	return chainedError{
		message: fmt.Sprintf("%s: %s", e.message, err.Error()),
		kind:    e.kind,
		wrapped: err,
	}
}

// Unwrap exposes the wrapped error (if any) to errors.Unwrap/errors.As.
func (e chainedError) Unwrap() error {
	return e.wrapped
}

// Is lets errors.Is(err, errors.NotFound) succeed anywhere this error has
// been rewrapped along the chain, matching on the original Kind sentinel.
func (e chainedError) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.kind
}
