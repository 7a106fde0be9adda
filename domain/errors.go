package domain

import "errors"

// ErrNotFound is returned by stores when no task matches the requested id.
var ErrNotFound = errors.New("task not found")
