package secrets

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "secrets.json")
	protector := NewAESGCMProtector(filepath.Join(dir, "secrets.key"))
	return New(zerolog.Nop(), path, protector), path
}

func TestStoreRetrieveRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)

	values := map[string]string{
		"api-token":  "sk-abc123",
		"db-pass":    "p@ssw0rd with spaces",
		"empty":      "",
		"unicode":    "päßwörd-秘密",
		"multi-line": "line1\nline2\n",
	}

	for key, value := range values {
		require.NoError(t, store.Store(key, value))
	}

	for key, want := range values {
		got, err := store.Retrieve(key)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestRetrieveMissingKey(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Retrieve("ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreEmptyKeyRejected(t *testing.T) {
	store, _ := newTestStore(t)

	assert.Error(t, store.Store("", "value"))
}

func TestDelete(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.Store("token", "secret"))

	deleted, err := store.Delete("token")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = store.Retrieve("token")
	assert.ErrorIs(t, err, ErrNotFound)

	deleted, err = store.Delete("token")
	require.NoError(t, err)
	assert.False(t, deleted, "deleting an absent key reports false")
}

func TestListKeysSorted(t *testing.T) {
	store, _ := newTestStore(t)
	for _, key := range []string{"zebra", "alpha", "mike"} {
		require.NoError(t, store.Store(key, "v"))
	}

	assert.Equal(t, []string{"alpha", "mike", "zebra"}, store.ListKeys())
}

func TestClear(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.Store("a", "1"))
	require.NoError(t, store.Store("b", "2"))

	require.NoError(t, store.Clear())

	assert.Zero(t, store.Count())
	assert.Empty(t, store.ListKeys())
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secrets.json")
	keyPath := filepath.Join(dir, "secrets.key")

	first := New(zerolog.Nop(), path, NewAESGCMProtector(keyPath))
	require.NoError(t, first.Store("token", "survives"))

	// A fresh store over the same file and key reads the same mapping.
	second := New(zerolog.Nop(), path, NewAESGCMProtector(keyPath))
	got, err := second.Retrieve("token")
	require.NoError(t, err)
	assert.Equal(t, "survives", got)
}

func TestCorruptFileDegradesToEmptyStore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secrets.json")
	require.NoError(t, os.WriteFile(path, []byte("not json at all {{{"), 0o600))

	store := New(zerolog.Nop(), path, NewAESGCMProtector(filepath.Join(dir, "secrets.key")))

	assert.Zero(t, store.Count())
	// The store stays usable.
	require.NoError(t, store.Store("fresh", "value"))
	got, err := store.Retrieve("fresh")
	require.NoError(t, err)
	assert.Equal(t, "value", got)
}

func TestValuesNeverStoredInPlaintext(t *testing.T) {
	store, path := newTestStore(t)
	require.NoError(t, store.Store("token", "hunter2-plaintext-marker"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "hunter2-plaintext-marker")

	// The file itself stays a well-formed vault document.
	var vault vaultFile
	require.NoError(t, json.Unmarshal(raw, &vault))
	assert.Contains(t, vault.Secrets, "token")
}

func TestMutationsLeaveNoTempFile(t *testing.T) {
	store, path := newTestStore(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Store("key", "value"))
	}
	_, err := store.Delete("key")
	require.NoError(t, err)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must be renamed away")
}

func TestAESGCMProtectorRoundTrip(t *testing.T) {
	protector := NewAESGCMProtector(filepath.Join(t.TempDir(), "key"))

	blob, err := protector.Protect([]byte("plain"))
	require.NoError(t, err)
	assert.NotEqual(t, []byte("plain"), blob)

	plain, err := protector.Unprotect(blob)
	require.NoError(t, err)
	assert.Equal(t, "plain", string(plain))
}

func TestAESGCMProtectorRejectsTamperedBlob(t *testing.T) {
	protector := NewAESGCMProtector(filepath.Join(t.TempDir(), "key"))

	blob, err := protector.Protect([]byte("plain"))
	require.NoError(t, err)

	blob[len(blob)-1] ^= 0xff
	_, err = protector.Unprotect(blob)
	assert.Error(t, err)
}

func TestAESGCMProtectorKeyFilePermissions(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "key")
	protector := NewAESGCMProtector(keyPath)

	_, err := protector.Protect([]byte("x"))
	require.NoError(t, err)

	info, err := os.Stat(keyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestAESGCMProtectorSharedKeyFile(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "key")

	first := NewAESGCMProtector(keyPath)
	blob, err := first.Protect([]byte("shared"))
	require.NoError(t, err)

	// A second protector over the same key file can open the blob; one
	// over a different key cannot.
	sameKey := NewAESGCMProtector(keyPath)
	plain, err := sameKey.Unprotect(blob)
	require.NoError(t, err)
	assert.Equal(t, "shared", string(plain))

	otherKey := NewAESGCMProtector(filepath.Join(t.TempDir(), "other"))
	_, err = otherKey.Unprotect(blob)
	assert.Error(t, err)
}
