// Copyright (c) 2014-2016 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// error instances
//
// Provides a single instance of errors to allow easy comparison
package fault

// error base
type GenericError string

// to allow for different classes of errors
//
// these map onto the error kinds of the storage subsystem: a caller can
// switch on class via the IsErrXxx predicates below without having to
// string-match messages
type ExistsError string
type InvalidError string          // InvalidArgument
type NotFoundError string         // NotFound
type ProcessError string
type OutOfSpaceError string       // OutOfSpace - persistent backend map growth budget exhausted
type IOError string                // IoError - underlying OS read/write/fsync failure
type CorruptionError string       // Corruption - structural inconsistency detected on read
type TransactionStateError string // TransactionState - begin/commit/abort misuse
type ConflictError string         // Conflict - concurrent writer collision

// common errors - keep in alphabetic order
var (
	ErrAlreadyInitialised     = ExistsError("already initialised")
	ErrAlreadyLocked          = ConflictError("database directory is already locked")
	ErrDatabaseIsNotSet       = InvalidError("database is not set")
	ErrDuplicateValueTooLarge = InvalidError("value exceeds duplicate index limit")
	ErrEmptyKey               = InvalidError("key must not be empty")
	ErrInvalidCount           = InvalidError("invalid count")
	ErrInvalidCursor          = InvalidError("invalid cursor")
	ErrInvalidIndex           = InvalidError("invalid index")
	ErrInvalidLoggerChannel   = InvalidError("invalid logger channel")
	ErrKeyTooLong             = InvalidError("key exceeds maximum length")
	ErrMapGrowthExhausted     = OutOfSpaceError("persistent backend exhausted its map growth budget")
	ErrNestedTransaction      = TransactionStateError("a transaction is already in progress")
	ErrNoActiveTransaction    = TransactionStateError("no transaction is in progress")
	ErrNotInitialised         = NotFoundError("not initialised")
)

// the error interface base method
func (e GenericError) Error() string { return string(e) }

// the error interface methods
func (e ExistsError) Error() string           { return string(e) }
func (e InvalidError) Error() string          { return string(e) }
func (e NotFoundError) Error() string         { return string(e) }
func (e ProcessError) Error() string          { return string(e) }
func (e OutOfSpaceError) Error() string       { return string(e) }
func (e IOError) Error() string               { return string(e) }
func (e CorruptionError) Error() string       { return string(e) }
func (e TransactionStateError) Error() string { return string(e) }
func (e ConflictError) Error() string         { return string(e) }

// determine the class of an error
func IsErrExists(e error) bool           { _, ok := e.(ExistsError); return ok }
func IsErrInvalid(e error) bool          { _, ok := e.(InvalidError); return ok }
func IsErrNotFound(e error) bool         { _, ok := e.(NotFoundError); return ok }
func IsErrProcess(e error) bool          { _, ok := e.(ProcessError); return ok }
func IsErrOutOfSpace(e error) bool       { _, ok := e.(OutOfSpaceError); return ok }
func IsErrIO(e error) bool               { _, ok := e.(IOError); return ok }
func IsErrCorruption(e error) bool       { _, ok := e.(CorruptionError); return ok }
func IsErrTransactionState(e error) bool { _, ok := e.(TransactionStateError); return ok }
func IsErrConflict(e error) bool         { _, ok := e.(ConflictError); return ok }
