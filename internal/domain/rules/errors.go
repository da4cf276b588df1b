package rules

import "errors"

// Sentinel kinds for rule store errors.
var (
	ErrNoRule       = errors.New("no rule for event type")
	ErrRuleInactive = errors.New("rule inactive")
	ErrInvalidRule  = errors.New("invalid rule")
	ErrLoadRules    = errors.New("load rules failed")
)
