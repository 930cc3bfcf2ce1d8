package messenger

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var (
	ErrValidation         = fmt.Errorf("validation error")
	ErrForbidden          = fmt.Errorf("forbidden")
	ErrNotFound           = fmt.Errorf("not found")
	ErrAlreadyMember      = fmt.Errorf("already a participant")
	ErrInvalidParticipant = fmt.Errorf("invalid participant")
	ErrTimeout            = fmt.Errorf("store timeout")
	ErrConflict           = fmt.Errorf("conflict")
)

// storeError maps driver level failures onto the messenger taxonomy.
// Record-not-found is left alone: only the caller knows whether a missing row is the subject.
func storeError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	default:
		return err
	}
}

// notFound translates gorm.ErrRecordNotFound into ErrNotFound for the named subject.
func notFound(err error, subject string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, subject)
	}
	return storeError(err)
}
