package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrConfiguration   = errors.New("configuration error")
	ErrUnknownStrategy = fmt.Errorf("%w: unknown strategy type", ErrConfiguration)
	ErrInvalidState    = errors.New("invalid simulation state")
	ErrUnrecoverable   = errors.New("unrecoverable error")
	ErrCollaborator    = errors.New("collaborator failure")
	ErrTimeout         = errors.New("timed out")
	ErrMissingMetadata = errors.New("opportunity metadata missing required key")
	ErrSourceExhausted = errors.New("block source exhausted")
	ErrLockHeld        = errors.New("lock already held")
)
