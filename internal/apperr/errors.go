// Package apperr defines sentinel errors shared across layers.
package apperr

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrIndexNotReady   = errors.New("index not ready")
	ErrEmbedding       = errors.New("embedding provider error")
	ErrInvalidArgument = errors.New("invalid argument")
)
