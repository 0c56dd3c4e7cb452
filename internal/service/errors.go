package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/iliyamo/newstore-ledger/internal/repository"
)

// Sentinel errors returned by every service.  Handlers map them to HTTP
// statuses; wrap them with fmt.Errorf("...: %w") to add context.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = repository.ErrNotFound
	ErrForbidden    = repository.ErrForbidden
	ErrConflict     = repository.ErrConflict
	// ErrNoneAvailable is returned by a partial reservation when every
	// requested number is taken.
	ErrNoneAvailable = errors.New("none of the requested numbers are available")
)

// ConflictError lists every requested number that could not be claimed.
// It matches ErrConflict with errors.Is.
type ConflictError struct {
	Numbers []int
}

func newConflict(ns []int) *ConflictError {
	out := append([]int(nil), ns...)
	sort.Ints(out)
	return &ConflictError{Numbers: out}
}

func (e *ConflictError) Error() string {
	parts := make([]string, len(e.Numbers))
	for i, n := range e.Numbers {
		parts[i] = fmt.Sprint(n)
	}
	return "numbers unavailable: " + strings.Join(parts, ",")
}

func (e *ConflictError) Unwrap() error { return ErrConflict }
