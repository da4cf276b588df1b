package config

import (
	"errors"
)

// Sentinel error kinds for this package, matchable with errors.Is from
// callers.
var (
	// ErrInvalidConfig marks a loaded configuration that fails validation,
	// e.g. an unknown storage backend or a non-positive worker count.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrLoadConfig wraps failures reading the file or environment layers.
	ErrLoadConfig = errors.New("load config failed")
)
