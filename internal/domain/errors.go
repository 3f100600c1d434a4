package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrIndexNotFound signals a reference to an unregistered logical index.
	ErrIndexNotFound = errors.New("index not found")
	// ErrNoCreatedVersion signals that no version has been created yet.
	ErrNoCreatedVersion = errors.New("no created index version")
	// ErrNoActiveVersion signals that no version is active.
	ErrNoActiveVersion = errors.New("no active index version")
	// ErrIndexVersionRequired signals a command that needs an exact version target.
	ErrIndexVersionRequired = errors.New("index version required")
	// ErrVersionNotFound signals a reference to an unknown version id.
	ErrVersionNotFound = errors.New("index version not found")
	// ErrIllegalIndexState signals an inconsistency between registry records.
	ErrIllegalIndexState = errors.New("illegal index state")
	// ErrSchemaSerialization signals a schema that cannot be canonicalized.
	ErrSchemaSerialization = errors.New("schema serialization failed")

	// ErrCannotDropActiveVersion blocks dropping the active version without --force.
	ErrCannotDropActiveVersion = errors.New(
		"cannot drop the active index version: activate another version first, or pass --force")
	// ErrCannotDropOlderWithoutForce blocks bulk-dropping older versions without --force.
	ErrCannotDropOlderWithoutForce = errors.New(
		"dropping older index versions requires --force")
	// ErrCannotDropAllWithoutForce blocks dropping every index without --force.
	ErrCannotDropAllWithoutForce = errors.New(
		"dropping all indexes requires --force")
)

// IndexNotFoundError wraps ErrIndexNotFound with the requested name.
type IndexNotFoundError struct {
	Name string
}

func (e *IndexNotFoundError) Error() string {
	return fmt.Sprintf("index %q: %s", e.Name, ErrIndexNotFound.Error())
}

func (e *IndexNotFoundError) Unwrap() error { return ErrIndexNotFound }

// NoCreatedVersionError wraps ErrNoCreatedVersion with the index name.
type NoCreatedVersionError struct {
	Index string
}

func (e *NoCreatedVersionError) Error() string {
	return fmt.Sprintf("index %q has no created versions: create one first", e.Index)
}

func (e *NoCreatedVersionError) Unwrap() error { return ErrNoCreatedVersion }

// NoActiveVersionError wraps ErrNoActiveVersion with the index name.
type NoActiveVersionError struct {
	Index string
}

func (e *NoActiveVersionError) Error() string {
	return fmt.Sprintf("index %q has no active version: activate one first", e.Index)
}

func (e *NoActiveVersionError) Unwrap() error { return ErrNoActiveVersion }

// VersionNotFoundError wraps ErrVersionNotFound with the requested target.
type VersionNotFoundError struct {
	Index string
	ID    int64
}

func (e *VersionNotFoundError) Error() string {
	return fmt.Sprintf("index %q version %d: %s", e.Index, e.ID, ErrVersionNotFound.Error())
}

func (e *VersionNotFoundError) Unwrap() error { return ErrVersionNotFound }

// IllegalIndexStateError wraps ErrIllegalIndexState with context about the
// record that was expected to exist.
type IllegalIndexStateError struct {
	Index     string
	VersionID int64
	Detail    string
}

func (e *IllegalIndexStateError) Error() string {
	return fmt.Sprintf("index %q version %d: %s: %s",
		e.Index, e.VersionID, ErrIllegalIndexState.Error(), e.Detail)
}

func (e *IllegalIndexStateError) Unwrap() error { return ErrIllegalIndexState }
