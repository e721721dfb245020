// Package vm implements the host runtime for untrusted Wasm contracts:
// code caching, instance lifecycle, the Region marshaling protocol, gas
// metering and the host import set contracts are linked against.
package vm

import (
	"fmt"

	"github.com/CosmWasm/wasmvm-go/types"
)

// OutOfGasError is returned when a contract exhausts its gas limit. It is a
// distinct type so embedders can halt the whole transaction instead of
// treating it like an ordinary contract failure.
type OutOfGasError struct{}

var _ error = OutOfGasError{}

func (OutOfGasError) Error() string {
	return "Ran out of gas during contract execution"
}

// IntegrityError is returned when bytes loaded from the code store do not
// hash to the checksum they are filed under. It indicates disk corruption or
// tampering and must never be handled by retrying.
type IntegrityError struct {
	Expected types.Checksum
}

var _ error = IntegrityError{}

func (e IntegrityError) Error() string {
	return fmt.Sprintf("code integrity check failed for %s", e.Expected)
}

// CacheError wraps failures of the cache tiers themselves, e.g. filesystem
// trouble under the base directory.
type CacheError struct {
	Msg string
	Err error
}

var _ error = CacheError{}

func (e CacheError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cache error: %s: %s", e.Msg, e.Err)
	}
	return fmt.Sprintf("cache error: %s", e.Msg)
}

func (e CacheError) Unwrap() error { return e.Err }

// CompileError is returned when wasm bytecode cannot be parsed, instrumented
// or compiled.
type CompileError struct {
	Msg string
	Err error
}

var _ error = CompileError{}

func (e CompileError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("compile error: %s: %s", e.Msg, e.Err)
	}
	return fmt.Sprintf("compile error: %s", e.Msg)
}

func (e CompileError) Unwrap() error { return e.Err }

// ValidationError is returned when bytecode is well-formed wasm but violates
// the static rules for contracts (imports, exports, memories, features).
type ValidationError struct {
	Msg string
}

var _ error = ValidationError{}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s", e.Msg)
}

// ResolveError is returned when a guest export the runtime needs cannot be
// found or has the wrong signature at call time.
type ResolveError struct {
	Name string
}

var _ error = ResolveError{}

func (e ResolveError) Error() string {
	return fmt.Sprintf("could not resolve export function %q", e.Name)
}

// RuntimeError is a failure inside guest execution that is not gas
// exhaustion: traps, aborts, stack exhaustion.
type RuntimeError struct {
	Msg string
	Err error
}

var _ error = RuntimeError{}

func (e RuntimeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("runtime error: %s: %s", e.Msg, e.Err)
	}
	return fmt.Sprintf("runtime error: %s", e.Msg)
}

func (e RuntimeError) Unwrap() error { return e.Err }

// CommunicationError covers violations of the Region protocol by guest code:
// pointers outside linear memory, lengths exceeding capacities, data larger
// than the host is willing to read.
type CommunicationError struct {
	Msg string
}

var _ error = CommunicationError{}

func (e CommunicationError) Error() string {
	return fmt.Sprintf("region error: %s", e.Msg)
}

func regionLengthTooBig(length, max int) CommunicationError {
	return CommunicationError{Msg: fmt.Sprintf("region length %d exceeds limit %d", length, max)}
}

func regionTooSmall(size, required int) CommunicationError {
	return CommunicationError{Msg: fmt.Sprintf("region capacity %d too small for %d bytes", size, required)}
}

func regionOutOfRange(offset, length uint32, memSize int) CommunicationError {
	return CommunicationError{Msg: fmt.Sprintf("region [%d, %d) is outside of memory of size %d", offset, offset+length, memSize)}
}

func zeroAddress() CommunicationError {
	return CommunicationError{Msg: "got a zero wasm address"}
}

func invalidOrder(value int32) CommunicationError {
	return CommunicationError{Msg: fmt.Sprintf("invalid iteration order: %d", value)}
}

// UninitializedContextDataError means a host import ran while the context
// had no storage or querier installed. This is a bug in the runtime, not a
// recoverable condition.
type UninitializedContextDataError struct {
	Kind string
}

var _ error = UninitializedContextDataError{}

func (e UninitializedContextDataError) Error() string {
	return fmt.Sprintf("uninitialized context data: %s", e.Kind)
}

// WriteAccessDeniedError is returned when a contract attempts db_write or
// db_remove during a query.
type WriteAccessDeniedError struct{}

var _ error = WriteAccessDeniedError{}

func (WriteAccessDeniedError) Error() string {
	return "cannot modify state during a query"
}

// SerializeError is returned when a JSON payload crossing the guest boundary
// cannot be produced or understood.
type SerializeError struct {
	Source string
	Msg    string
}

var _ error = SerializeError{}

func (e SerializeError) Error() string {
	return fmt.Sprintf("error serializing %s: %s", e.Source, e.Msg)
}
