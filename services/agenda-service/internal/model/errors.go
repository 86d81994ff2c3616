package model

import "errors"

var (
	// ErrNotFound means the referenced record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict means a concurrent update won the conditional write; the
	// caller saw a stale status.
	ErrConflict = errors.New("conflicting concurrent update")
)
