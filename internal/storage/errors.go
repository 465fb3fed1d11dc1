package storage

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrTerminal is returned when a mutation targets an agent run that has
// already reached a terminal state.
var ErrTerminal = errors.New("storage: run already terminal")

// ErrDuplicate is returned when a uniqueness constraint rejects an insert.
var ErrDuplicate = errors.New("storage: duplicate")
