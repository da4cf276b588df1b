package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrLeadNotFound  = errors.New("lead not found")
	ErrEventNotFound = errors.New("event not found")
	ErrStore         = errors.New("store operation failed")
)
