package credstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// KeyringStore provides OS-native secure credential storage. The profile is used
// as the keyring user under a fixed service name.
type KeyringStore struct {
	service string
}

// Compile-time check to ensure KeyringStore implements Store
var _ Store = (*KeyringStore)(nil)

// NewKeyringStore creates a KeyringStore for the given service identifier.
func NewKeyringStore(service string) (*KeyringStore, error) {
	if service == "" {
		return nil, fmt.Errorf("service cannot be empty")
	}

	return &KeyringStore{
		service: service,
	}, nil
}

// Read returns the cookie header for profile from the system keyring.
func (k *KeyringStore) Read(ctx context.Context, profile string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if profile == "" {
		return "", fmt.Errorf("profile cannot be empty")
	}

	value, err := keyring.Get(k.service, profile)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("keyring service %s, profile %s: %w", k.service, profile, ErrNotFound)
	}
	if err != nil {
		return "", err
	}

	if value == "" {
		return "", fmt.Errorf("empty keyring entry for service %s, profile %s: %w", k.service, profile, ErrNotFound)
	}

	return value, nil
}

// Write persists value for profile, overwriting any existing entry.
func (k *KeyringStore) Write(ctx context.Context, profile, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if profile == "" {
		return fmt.Errorf("profile cannot be empty")
	}

	return keyring.Set(k.service, profile, value)
}
