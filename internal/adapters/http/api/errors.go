package api

import "errors"

// Sentinel kinds for API errors.
var (
	ErrBadRequest   = errors.New("bad request")
	ErrBatchTooBig  = errors.New("batch exceeds size limit")
	ErrBackpressure = errors.New("backpressure")
)
