package errval

import (
	"errors"
)

var (
	ErrInternal          = errors.New("internal server error")
	ErrNotFound          = errors.New("not found")
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrInvalidTransition = errors.New("invalid task status transition")
	ErrInvalidBackend    = errors.New("invalid processor backend")
	ErrUnavailable       = errors.New("backend not configured")
)
