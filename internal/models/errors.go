package models

import (
	"errors"
	"strings"
)

var (
	ErrMissingFields      = errors.New("missing required fields")
	ErrInvalidCredentials = errors.New("invalid credentials or user type")
	ErrEmailTaken         = errors.New("an account with this email already exists")
	ErrSaveFailed         = errors.New("failed to save event")
	ErrDeleteFailed       = errors.New("failed to delete event")
	ErrInitFailed         = errors.New("failed to initialize event store")

	ErrNotSignedIn   = errors.New("not signed in")
	ErrNotOrganizer  = errors.New("organizer role required")
	ErrNotOwner      = errors.New("event belongs to another organizer")
	ErrEventNotFound = errors.New("event not found")

	ErrUnknownRole      = errors.New("unknown role")
	ErrUnknownEventType = errors.New("unknown event type")
	ErrUnknownField     = errors.New("unknown field")
	ErrInvalidDate      = errors.New("invalid date, expected YYYY-MM-DD")
)

// MissingFieldsError names the required fields that were empty.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	if len(e.Fields) == 0 {
		return ErrMissingFields.Error()
	}
	return ErrMissingFields.Error() + ": " + strings.Join(e.Fields, ", ")
}

func (e *MissingFieldsError) Is(target error) bool { return target == ErrMissingFields }
