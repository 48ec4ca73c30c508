package cms

import (
	"errors"
	"fmt"
)

var (
	// ErrLocked is returned when a new version is requested for an article
	// whose current version carries ViewModeLocked.
	ErrLocked = errors.New("article is locked")

	// ErrTooLarge is returned when an upload exceeds the staging limit.
	ErrTooLarge = errors.New("upload exceeds staging limit")

	// ErrBlobNotFound is returned by a BlobStore when no content exists for a checksum.
	ErrBlobNotFound = errors.New("blob not found")

	// ErrDuplicate is returned by a Store when an insert violates a unique
	// constraint. The manager translates it into a typed conflict error.
	ErrDuplicate = errors.New("duplicate key")
)

// AddressConflictError reports that an address is already bound to another article.
type AddressConflictError struct {
	Address   string
	ArticleID string // article that tried to claim the address
	HeldBy    string // article currently holding it
}

func (e *AddressConflictError) Error() string {
	return fmt.Sprintf("address %q is already bound to article %s", e.Address, e.HeldBy)
}

// VersionConflictError reports that another writer already claimed the
// version number. Re-read the article and retry.
type VersionConflictError struct {
	ArticleID     string
	VersionNumber int
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version %d of article %s was already saved by another writer", e.VersionNumber, e.ArticleID)
}

// NotFoundError reports a missing article, version, file or text.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// StorageError wraps a failure of the database or blob backend.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// DanglingParentError reports a parent reference to an article that does not exist.
type DanglingParentError struct {
	ArticleID string
	ParentID  string
}

func (e *DanglingParentError) Error() string {
	return fmt.Sprintf("article %s references missing parent %s", e.ArticleID, e.ParentID)
}

// CycleError reports a parent link that would make an article its own ancestor.
type CycleError struct {
	ArticleID string
	ParentID  string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("parent %s would make article %s its own ancestor", e.ParentID, e.ArticleID)
}

// ValidationError reports an invalid field on a version.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// storageErr wraps err as a *StorageError unless it already carries one of
// the typed errors above.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		se  *StorageError
		ac  *AddressConflictError
		vc  *VersionConflictError
		nf  *NotFoundError
		dp  *DanglingParentError
		cy  *CycleError
		val *ValidationError
	)
	switch {
	case errors.As(err, &se), errors.As(err, &ac), errors.As(err, &vc), errors.As(err, &nf),
		errors.As(err, &dp), errors.As(err, &cy), errors.As(err, &val),
		errors.Is(err, ErrLocked), errors.Is(err, ErrTooLarge):
		return err
	}
	return &StorageError{Op: op, Err: err}
}
