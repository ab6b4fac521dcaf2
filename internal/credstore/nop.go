package credstore

import "context"

// NopStore never persists anything. Writes report ErrReadOnly so callers
// holding one-time data know it was not kept.
type NopStore struct{}

// Compile-time check to ensure NopStore implements Store
var _ Store = NopStore{}

// Read always reports ErrNotFound.
func (NopStore) Read(ctx context.Context, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "", ErrNotFound
}

// Write discards value and reports ErrReadOnly.
func (NopStore) Write(ctx context.Context, _, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return ErrReadOnly
}
