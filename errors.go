// Package hlkv provides the status codes and error type shared by every
// layer of the embedded, log-structured key-value engine: the epoch
// manager (epoch), the hybrid log allocator (hlog), the hash index
// (index), the operation engine (engine) and the checkpoint/recover
// machinery (checkpoint).
package hlkv

import "fmt"

// Code is a status code returned by an engine operation.
type Code int

const (
	CodeOk Code = iota
	CodePending
	CodeNotFound
	CodeOutOfMemory
	CodeIOError
	CodeCorrupted
	CodeAborted
	CodeInvalidOperation
)

func (c Code) String() string {
	switch c {
	case CodeOk:
		return "Ok"
	case CodePending:
		return "Pending"
	case CodeNotFound:
		return "NotFound"
	case CodeOutOfMemory:
		return "OutOfMemory"
	case CodeIOError:
		return "IOError"
	case CodeCorrupted:
		return "Corrupted"
	case CodeAborted:
		return "Aborted"
	case CodeInvalidOperation:
		return "InvalidOperation"
	default:
		return "Unknown"
	}
}

// Error is the error type returned across package boundaries. It wraps a
// Code so callers can distinguish NotFound/IOError/Corrupted/etc without
// string matching.
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("hlkv (%s): %s", e.Code, e.Msg)
}

// NewError creates a new Error with the given code and message.
func NewError(code Code, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// ContractViolation is panicked (never returned as an error) when a caller
// breaks a programmer-facing contract: iterating below head, issuing an
// operation on a closed/unopened session, or a serial number going
// backwards. These are fatal to the process per spec - they are never
// recoverable, so they are not represented as an *Error.
type ContractViolation struct {
	Msg string
}

func (c ContractViolation) Error() string {
	return "hlkv: contract violation: " + c.Msg
}

// Violate panics with a ContractViolation. Internal helper used by every
// package that needs to enforce a programmer-facing contract.
func Violate(format string, args ...interface{}) {
	panic(ContractViolation{Msg: fmt.Sprintf(format, args...)})
}
