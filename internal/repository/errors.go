package repository

import "errors"

// ErrNotFound indicates an entity was not located.
var ErrNotFound = errors.New("repository: not found")

// ErrConflict indicates a mutation was reversed because a dependent side
// effect (such as a proxy reload) failed.
var ErrConflict = errors.New("repository: conflict")
