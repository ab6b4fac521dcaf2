package credstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore keeps one file per profile inside a private directory.
// Writes use temp file + rename for crash safety.
type FileStore struct {
	dir string
}

// Compile-time check to ensure FileStore implements Store
var _ Store = (*FileStore)(nil)

// NewFileStore creates a FileStore rooted at dir, creating it with 0700
// permissions if it doesn't exist.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("directory cannot be empty")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	return &FileStore{
		dir: dir,
	}, nil
}

// Read returns the stored cookie header after trimming whitespace. Returns
// ErrNotFound if the file doesn't exist or is empty, and an error if it has
// insecure permissions.
func (f *FileStore) Read(ctx context.Context, profile string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path, err := f.path(profile)
	if err != nil {
		return "", err
	}

	// Check file permissions before reading
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("profile %s: %w", profile, ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	if info.Mode().Perm() != 0600 {
		return "", fmt.Errorf("insecure permissions on %s: %04o (expected 0600)", path, info.Mode().Perm())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	value := strings.TrimSpace(string(data))
	if value == "" {
		return "", fmt.Errorf("empty credentials file %s: %w", path, ErrNotFound)
	}
	return value, nil
}

// Write atomically saves value for profile with 0600 permissions.
func (f *FileStore) Write(ctx context.Context, profile, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := f.path(profile)
	if err != nil {
		return err
	}

	// Create secure temp file in same directory for atomic rename
	tempFile, err := os.CreateTemp(f.dir, "*.tmp")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()
	defer func() { _ = os.Remove(tempName) }()
	defer func() { _ = tempFile.Close() }()

	if _, err := tempFile.WriteString(strings.TrimSpace(value) + "\n"); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}

	if err := os.Rename(tempName, path); err != nil {
		return err
	}

	return os.Chmod(path, 0600)
}

func (f *FileStore) path(profile string) (string, error) {
	if profile == "" || profile == "." || profile == ".." || strings.ContainsAny(profile, `/\`) {
		return "", fmt.Errorf("invalid profile name %q", profile)
	}
	return filepath.Join(f.dir, profile), nil
}
