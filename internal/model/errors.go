package model

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicate        = errors.New("duplicate rule id")
	ErrNotFound         = errors.New("not found")
	ErrStoreUnavailable = errors.New("rule store unavailable")
	ErrQueueOverflow    = errors.New("event queue full")
)

// ConfigError reports a malformed rule or condition. The rule is skipped.
type ConfigError struct {
	RuleID string
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.RuleID == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("rule %s: invalid %s: %s", e.RuleID, e.Field, e.Reason)
}

// DispatchError reports a single failed action.
type DispatchError struct {
	Action ActionType
	Reason string
	Err    error
}

func (e *DispatchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s action failed: %s: %v", e.Action, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s action failed: %s", e.Action, e.Reason)
}

func (e *DispatchError) Unwrap() error { return e.Err }

func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
