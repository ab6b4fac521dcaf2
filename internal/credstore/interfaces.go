package credstore

import (
	"context"
	"errors"
)

var (
	// ErrNotFound reports that no credentials are stored for a profile.
	ErrNotFound = errors.New("no stored credentials")

	// ErrReadOnly is returned by Write on backends that cannot persist.
	ErrReadOnly = errors.New("credential storage is read-only")
)

// Store reads and writes cookie headers keyed by profile.
type Store interface {
	// Read returns the stored cookie header for profile. Returns ErrNotFound if
	// nothing is stored.
	Read(ctx context.Context, profile string) (string, error)

	// Write persists value for profile, overwriting any previous value. Returns
	// ErrReadOnly if the backend cannot persist.
	Write(ctx context.Context, profile, value string) error
}
