// Package repository implements the ticket ledger on MySQL.  Sentinel
// errors defined here are shared with the in-memory ledger so that higher
// layers can distinguish failure scenarios with errors.Is regardless of the
// backing store.
package repository

import "errors"

// ErrNotFound is returned when a row addressed by id does not exist.
var ErrNotFound = errors.New("not found")

// ErrForbidden is returned when the caller attempts an operation on a
// resource owned by someone else.  Handlers translate it to 403.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when an operation cannot proceed because of
// conflicting state, such as selling a number another payment already
// bought.  Handlers translate it to 409.
var ErrConflict = errors.New("conflict")

// ErrLockTimeout is returned when a named lock could not be acquired in time.
var ErrLockTimeout = errors.New("named lock timeout")

// ErrLockInTx is returned when a named lock is requested from inside a
// transaction.  Named locks are taken first and wrap the transaction.
var ErrLockInTx = errors.New("named lock requested inside a transaction")
