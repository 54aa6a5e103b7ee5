package repository

import "errors"

// ErrNotFound indicates an entity was not located.
var ErrNotFound = errors.New("repository: not found")

// ErrDuplicate indicates an insert violated a uniqueness constraint.
var ErrDuplicate = errors.New("repository: duplicate")
