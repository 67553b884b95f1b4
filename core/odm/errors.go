package odm

import (
	"errors"
	"fmt"
)

var (
	// ErrEmbedded is returned by persistence operations on embedded kinds.
	ErrEmbedded = errors.New("embedded records cannot be persisted directly")

	// ErrClosed is returned by operations started after Close.
	ErrClosed = errors.New("connection closed")

	// ErrUnknownKind is returned when a kind name is not defined.
	ErrUnknownKind = errors.New("unknown kind")

	// ErrVersionTooNew matches VersionMismatchError for documents written by
	// a newer schema than the current one.
	ErrVersionTooNew = errors.New("stored version is newer than the kind")

	// ErrNeedsMigration matches VersionMismatchError for documents that must
	// be migrated first.
	ErrNeedsMigration = errors.New("stored version needs migration")
)

// VersionMismatchError reports a stored document whose version stamp does
// not equal the current version of its kind.
type VersionMismatchError struct {
	Kind    string
	ID      string
	Stored  int
	Current int
}

func (e *VersionMismatchError) Error() string {
	if e.Stored > e.Current {
		return fmt.Sprintf("%s %s: stored version %d is newer than current version %d",
			e.Kind, e.ID, e.Stored, e.Current)
	}
	return fmt.Sprintf("%s %s: stored version %d differs from current version %d, run migrate",
		e.Kind, e.ID, e.Stored, e.Current)
}

// Is matches ErrVersionTooNew or ErrNeedsMigration.
func (e *VersionMismatchError) Is(target error) bool {
	if e.Stored > e.Current {
		return target == ErrVersionTooNew
	}
	return target == ErrNeedsMigration
}

// TooNew reports whether the stored document is ahead of the kind.
func (e *VersionMismatchError) TooNew() bool {
	return e.Stored > e.Current
}

// MigrationError reports a migration aborted by a uniqueness violation or a
// failing migration function.
type MigrationError struct {
	Kind  string
	ID    string
	Field string
	Value any
	Err   error
}

func (e *MigrationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("migrate %s: duplicate value %v for unique field %s: %v", e.Kind, e.Value, e.Field, e.Err)
	}
	if e.ID != "" {
		return fmt.Sprintf("migrate %s: document %s: %v", e.Kind, e.ID, e.Err)
	}
	return fmt.Sprintf("migrate %s: %v", e.Kind, e.Err)
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}
