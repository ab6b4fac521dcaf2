package credstore

import (
	"context"
	"fmt"
	"os"
)

// EnvStore provides read-only access to a cookie header stored in an environment
// variable. The same value answers every profile.
type EnvStore struct {
	envKey string
}

// Compile-time check to ensure EnvStore implements Store
var _ Store = (*EnvStore)(nil)

// NewEnvStore creates an EnvStore for the given environment variable.
func NewEnvStore(envKey string) (*EnvStore, error) {
	if envKey == "" {
		return nil, fmt.Errorf("environment key cannot be empty")
	}

	return &EnvStore{
		envKey: envKey,
	}, nil
}

// Read returns the value of the environment variable, or ErrNotFound if it is unset or empty.
func (e *EnvStore) Read(ctx context.Context, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	value := os.Getenv(e.envKey)
	if value == "" {
		return "", fmt.Errorf("environment variable %s: %w", e.envKey, ErrNotFound)
	}
	return value, nil
}

// Write is not supported for environment variables.
func (e *EnvStore) Write(ctx context.Context, _, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return ErrReadOnly
}
