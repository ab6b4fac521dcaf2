package credstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestFileStore_WriteRead(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "creds")

	store, err := NewFileStore(dir)
	require.NoError(t, err)

	_, err = store.Read(ctx, "default")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Write(ctx, "default", "SID=a; HSID=b"))
	require.NoError(t, store.Write(ctx, "work", "SID=w"))

	value, err := store.Read(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, "SID=a; HSID=b", value)

	value, err = store.Read(ctx, "work")
	require.NoError(t, err)
	assert.Equal(t, "SID=w", value)

	info, err := os.Stat(filepath.Join(dir, "default"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	dirInfo, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), dirInfo.Mode().Perm())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temp files left behind")
}

func TestFileStore_RejectsInsecurePermissions(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "default"), []byte("SID=a"), 0644))

	_, err = store.Read(context.Background(), "default")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure permissions")
}

func TestFileStore_InvalidProfile(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	for _, profile := range []string{"", ".", "..", "a/b", `a\b`} {
		err := store.Write(context.Background(), profile, "SID=a")
		assert.Error(t, err, "profile %q", profile)
	}
}

func TestFileStore_EmptyDir(t *testing.T) {
	_, err := NewFileStore("")
	assert.Error(t, err)
}

func TestFileStore_CancelledContext(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, store.Write(ctx, "default", "SID=a"), context.Canceled)
	_, err = store.Read(ctx, "default")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEnvStore(t *testing.T) {
	ctx := context.Background()

	_, err := NewEnvStore("")
	require.Error(t, err)

	store, err := NewEnvStore("NLMAUTH_TEST_COOKIES")
	require.NoError(t, err)

	t.Setenv("NLMAUTH_TEST_COOKIES", "")
	_, err = store.Read(ctx, "default")
	require.ErrorIs(t, err, ErrNotFound)

	t.Setenv("NLMAUTH_TEST_COOKIES", "SID=env")
	value, err := store.Read(ctx, "anything")
	require.NoError(t, err)
	assert.Equal(t, "SID=env", value)

	assert.ErrorIs(t, store.Write(ctx, "default", "SID=a"), ErrReadOnly)
}

func TestKeyringStore(t *testing.T) {
	keyring.MockInit()
	ctx := context.Background()

	_, err := NewKeyringStore("")
	require.Error(t, err)

	store, err := NewKeyringStore("nlm-auth-broker-test")
	require.NoError(t, err)

	_, err = store.Read(ctx, "default")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Write(ctx, "default", "SID=k"))
	value, err := store.Read(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, "SID=k", value)

	assert.Error(t, store.Write(ctx, "", "SID=k"))
}

func TestNopStore(t *testing.T) {
	ctx := context.Background()
	var store Store = NopStore{}

	assert.ErrorIs(t, store.Write(ctx, "default", "SID=a"), ErrReadOnly, "discarded data is never reported as stored")
	_, err := store.Read(ctx, "default")
	assert.ErrorIs(t, err, ErrNotFound)
}
