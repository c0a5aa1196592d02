package sync

import (
	"errors"
	"fmt"
)

var (
	ErrSyncInProgress   = errors.New("sync: already in progress")
	ErrInvalidDocument  = errors.New("sync: invalid remote document")
	ErrNotAuthenticated = errors.New("sync: no account configured")
)

// Per-entity operations reported in EntityError.Op.
const (
	OpDecode = "decode"
	OpPush   = "push"
	OpPull   = "pull"
	OpMerge  = "merge"
	OpApply  = "apply"
)

// ConfigurationError means sync cannot start at all: no account or an
// unreachable remote. No collection is touched.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err == nil {
		return "sync: " + e.Reason
	}
	return fmt.Sprintf("sync: %s: %v", e.Reason, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// EntityError is a failure confined to one row; sibling rows still sync.
type EntityError struct {
	Collection string
	ID         string
	Op         string
	Err        error
}

func (e *EntityError) Error() string {
	return fmt.Sprintf("sync: %s %s/%s: %v", e.Op, e.Collection, e.ID, e.Err)
}

func (e *EntityError) Unwrap() error { return e.Err }

// PhaseError is a failure that aborted a whole collection and every
// collection after it.
type PhaseError struct {
	Collection string
	Err        error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("sync: collection %s: %v", e.Collection, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }
