package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ruteri/tee-keyseal/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileBackend(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	backend, err := NewFileBackend(dir, nil)
	require.NoError(t, err)
	assert.True(t, backend.Available(ctx))
	assert.Equal(t, "file://"+dir, backend.LocationURI())

	data := []byte("sealed blob bytes")
	id, err := backend.Store(ctx, data, interfaces.SealedKeyType)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ComputeID(data), id)

	_, err = os.Stat(filepath.Join(dir, "sealed-keys", id.String()))
	assert.NoError(t, err, "Blob should be stored in the sealed-keys namespace")

	fetched, err := backend.Fetch(ctx, id, interfaces.SealedKeyType)
	require.NoError(t, err)
	assert.Equal(t, data, fetched)

	_, err = backend.Fetch(ctx, id, interfaces.SealedRecordType)
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound, "Namespaces should be separate")

	_, err = backend.Fetch(ctx, interfaces.ContentID{1}, interfaces.SealedKeyType)
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)

	_, err = backend.Store(ctx, data, interfaces.ContentType(42))
	assert.Error(t, err)

	again, err := backend.Store(ctx, data, interfaces.SealedKeyType)
	require.NoError(t, err)
	assert.Equal(t, id, again, "Storing twice should be idempotent")

	entries, err := os.ReadDir(filepath.Join(dir, "sealed-keys"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "No temporary files should be left behind")
}

func TestStorageBackendFactory(t *testing.T) {
	factory := NewStorageBackendFactory(nil)
	dir := t.TempDir()

	backend, err := factory.StorageBackendFor("file://" + dir)
	require.NoError(t, err)
	assert.IsType(t, &FileBackend{}, backend)

	backend, err = factory.StorageBackendFor("s3://bucket/prefix?region=eu-west-1&endpoint=http://127.0.0.1:9000")
	require.NoError(t, err)
	assert.Equal(t, "s3-bucket", backend.Name())

	backend, err = factory.StorageBackendFor("ipfs://127.0.0.1:5001/keys?timeout=5s")
	require.NoError(t, err)
	assert.Equal(t, "ipfs-127.0.0.1-5001", backend.Name())

	_, err = factory.StorageBackendFor("ipfs://127.0.0.1/?timeout=soon")
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)

	backend, err = factory.StorageBackendFor("vault://s.token@127.0.0.1:8200/secret/keyseal?tls=false")
	require.NoError(t, err)
	assert.Equal(t, "vault-secret-keyseal", backend.Name())
	assert.Equal(t, "vault://127.0.0.1:8200/secret/keyseal", backend.LocationURI())

	_, err = factory.StorageBackendFor("github://owner/repo")
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)

	multi, err := factory.CreateMultiBackend([]string{"file://" + dir, "github://owner/repo", "file://" + t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, "multi-storage", multi.Name())

	single, err := factory.CreateMultiBackend([]string{"file://" + dir})
	require.NoError(t, err)
	assert.IsType(t, &FileBackend{}, single)

	_, err = factory.CreateMultiBackend([]string{"unknown://x"})
	assert.Error(t, err)
}
