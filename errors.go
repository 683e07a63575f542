package wisent

import (
	"errors"
	"fmt"

	crdberrors "github.com/cockroachdb/errors"
)

// ErrorKind groups error codes into the broad categories callers dispatch on:
// handle state machine misuse, resource exhaustion, ordinary data outcomes,
// environment-fatal integrity failures, and programming errors.
type ErrorKind int

const (
	// KindState covers misuse of a handle's state machine (closed, not ready).
	KindState ErrorKind = iota + 1

	// KindCapacity covers resource exhaustion that configuration can fix.
	KindCapacity

	// KindData covers expected outcomes of well-formed calls.
	KindData

	// KindIntegrity covers failures fatal to the environment.
	KindIntegrity

	// KindProgram covers caller bugs that must fail loudly.
	KindProgram
)

// ErrorCode identifies a specific engine error. The numeric value is stable
// and carried on the Error for diagnostics.
type ErrorCode int

const (
	// ErrKeyExist indicates the key (or key/value pair) already exists.
	ErrKeyExist ErrorCode = -30001

	// ErrNotFound indicates the key (or key/value pair) was not found.
	ErrNotFound ErrorCode = -30002

	// ErrBadValSize indicates a zero-length key or an oversized key or value.
	ErrBadValSize ErrorCode = -30003

	// ErrIncompatible indicates database flags conflict with the existing database.
	ErrIncompatible ErrorCode = -30004

	// ErrMapFull indicates the configured map size is exhausted.
	ErrMapFull ErrorCode = -30010

	// ErrReadersFull indicates the reader slot table has no free slot.
	ErrReadersFull ErrorCode = -30011

	// ErrDBsFull indicates the configured maximum of named databases is reached.
	ErrDBsFull ErrorCode = -30012

	// ErrCursorFull indicates the cursor page stack overflowed (tree too deep).
	ErrCursorFull ErrorCode = -30013

	// ErrTxnFull indicates a transaction accumulated too many dirty pages.
	ErrTxnFull ErrorCode = -30014

	// ErrEnvClosed indicates the environment handle is closed.
	ErrEnvClosed ErrorCode = -30020

	// ErrEnvBusy indicates close was refused while handles are outstanding.
	ErrEnvBusy ErrorCode = -30021

	// ErrAlreadyOpen indicates Open was called on an open environment.
	ErrAlreadyOpen ErrorCode = -30022

	// ErrTxnNotReady indicates an operation on a finished transaction.
	ErrTxnNotReady ErrorCode = -30023

	// ErrTxnNotReset indicates Renew on a transaction that was not reset.
	ErrTxnNotReset ErrorCode = -30024

	// ErrBadCursor indicates an operation on a closed or stale cursor.
	ErrBadCursor ErrorCode = -30025

	// ErrPermissionDenied indicates a write on a read-only environment or txn.
	ErrPermissionDenied ErrorCode = -30026

	// ErrBadTxn indicates an operation on a finished or invalid transaction
	// handle.
	ErrBadTxn ErrorCode = -30027

	// ErrCorrupted indicates on-disk structures failed validation.
	ErrCorrupted ErrorCode = -30030

	// ErrPageNotFound indicates a referenced page is outside the data file.
	ErrPageNotFound ErrorCode = -30031

	// ErrVersionMismatch indicates the data file format version is unsupported.
	ErrVersionMismatch ErrorCode = -30032

	// ErrPanic indicates an unrecoverable internal fault; the environment
	// should be closed and not reused.
	ErrPanic ErrorCode = -30033

	// ErrIO indicates a failed read, write, or sync on the underlying files.
	ErrIO ErrorCode = -30034

	// ErrInvalid indicates an invalid argument or handle.
	ErrInvalid ErrorCode = -30040

	// ErrBadDBI indicates an unknown database handle.
	ErrBadDBI ErrorCode = -30041

	// ErrNestedTxn indicates nested transaction misuse: a read-only parent or
	// child, or use of a parent while its child is open.
	ErrNestedTxn ErrorCode = -30042

	// ErrIllegalState indicates an API protocol violation, such as requesting
	// a second iterator from a consumed range.
	ErrIllegalState ErrorCode = -30043
)

// Kind returns the taxonomy category for the code.
func (c ErrorCode) Kind() ErrorKind {
	switch c {
	case ErrKeyExist, ErrNotFound, ErrBadValSize, ErrIncompatible:
		return KindData
	case ErrMapFull, ErrReadersFull, ErrDBsFull, ErrCursorFull, ErrTxnFull:
		return KindCapacity
	case ErrEnvClosed, ErrEnvBusy, ErrAlreadyOpen, ErrTxnNotReady, ErrTxnNotReset,
		ErrBadCursor, ErrPermissionDenied, ErrBadTxn:
		return KindState
	case ErrCorrupted, ErrPageNotFound, ErrVersionMismatch, ErrPanic, ErrIO:
		return KindIntegrity
	default:
		return KindProgram
	}
}

func (c ErrorCode) String() string {
	switch c {
	case ErrKeyExist:
		return "key exists"
	case ErrNotFound:
		return "not found"
	case ErrBadValSize:
		return "bad key/value size"
	case ErrIncompatible:
		return "incompatible database flags"
	case ErrMapFull:
		return "map size exhausted"
	case ErrReadersFull:
		return "reader slots exhausted"
	case ErrDBsFull:
		return "max databases reached"
	case ErrCursorFull:
		return "cursor stack overflow"
	case ErrTxnFull:
		return "transaction too large"
	case ErrEnvClosed:
		return "environment closed"
	case ErrEnvBusy:
		return "environment has open handles"
	case ErrAlreadyOpen:
		return "environment already open"
	case ErrTxnNotReady:
		return "transaction finished"
	case ErrTxnNotReset:
		return "transaction not reset"
	case ErrBadCursor:
		return "cursor closed or stale"
	case ErrPermissionDenied:
		return "permission denied"
	case ErrBadTxn:
		return "invalid transaction handle"
	case ErrCorrupted:
		return "corrupted database"
	case ErrPageNotFound:
		return "page not found"
	case ErrVersionMismatch:
		return "format version mismatch"
	case ErrPanic:
		return "fatal environment error"
	case ErrIO:
		return "i/o failure"
	case ErrInvalid:
		return "invalid argument"
	case ErrBadDBI:
		return "bad database handle"
	case ErrNestedTxn:
		return "nested transaction misuse"
	case ErrIllegalState:
		return "illegal state"
	default:
		return fmt.Sprintf("error code %d", int(c))
	}
}

// Error is the engine error type. Code identifies what went wrong; Err, when
// set, carries the underlying cause (I/O errors get stack context attached).
type Error struct {
	Code ErrorCode
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("wisent: %s: %v", e.Code, e.Err)
	}
	return "wisent: " + e.Code.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError returns an Error for the given code.
func NewError(code ErrorCode) *Error {
	return &Error{Code: code}
}

// WrapError returns an Error wrapping an underlying cause. The cause gets a
// stack trace attached so I/O failures are diagnosable from logs.
func WrapError(code ErrorCode, err error) *Error {
	return &Error{Code: code, Err: crdberrors.WithStack(err)}
}

// CodeOf extracts the ErrorCode from err, or 0 if err is not an engine error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

// IsNotFound reports whether err is an ErrNotFound engine error.
func IsNotFound(err error) bool { return CodeOf(err) == ErrNotFound }

// IsKeyExist reports whether err is an ErrKeyExist engine error.
func IsKeyExist(err error) bool { return CodeOf(err) == ErrKeyExist }

// IsMapFull reports whether err is an ErrMapFull engine error.
func IsMapFull(err error) bool { return CodeOf(err) == ErrMapFull }
