package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ruteri/tee-keyseal/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockStorageBackend implements interfaces.StorageBackend for testing
type MockStorageBackend struct {
	mock.Mock
	name string
}

func (m *MockStorageBackend) Fetch(ctx context.Context, id interfaces.ContentID, contentType interfaces.ContentType) ([]byte, error) {
	args := m.Called(ctx, id, contentType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockStorageBackend) Store(ctx context.Context, data []byte, contentType interfaces.ContentType) (interfaces.ContentID, error) {
	args := m.Called(ctx, data, contentType)
	return args.Get(0).(interfaces.ContentID), args.Error(1)
}

func (m *MockStorageBackend) Available(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

func (m *MockStorageBackend) Name() string {
	return m.name
}

func (m *MockStorageBackend) LocationURI() string {
	return "mock://" + m.name
}

func unavailableBackend(name string) *MockStorageBackend {
	b := &MockStorageBackend{name: name}
	b.On("Available", mock.Anything).Return(false)
	return b
}

func TestMultiStorageBackend_ReplicatesSealedBlobs(t *testing.T) {
	ctx := context.Background()
	primaryDir, replicaDir := t.TempDir(), t.TempDir()

	primary, err := NewFileBackend(primaryDir, nil)
	require.NoError(t, err)
	replica, err := NewFileBackend(replicaDir, nil)
	require.NoError(t, err)
	offline := unavailableBackend("offline")

	multi := NewMultiStorageBackend([]interfaces.StorageBackend{offline, primary, replica}, nil)
	assert.True(t, multi.Available(ctx))
	assert.Equal(t, "multi:[mock://offline,file://"+primaryDir+",file://"+replicaDir+"]", multi.LocationURI())

	blob := []byte("sealed key blob")
	id, err := multi.Store(ctx, blob, interfaces.SealedKeyType)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ComputeID(blob), id)

	for _, dir := range []string{primaryDir, replicaDir} {
		stored, err := os.ReadFile(filepath.Join(dir, "sealed-keys", id.String()))
		require.NoError(t, err, "Blob should be replicated to %s", dir)
		assert.Equal(t, blob, stored)
	}

	_, err = multi.Fetch(ctx, id, interfaces.SealedRecordType)
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound, "Keys and records live in separate namespaces")

	require.NoError(t, os.Remove(filepath.Join(primaryDir, "sealed-keys", id.String())))
	fetched, err := multi.Fetch(ctx, id, interfaces.SealedKeyType)
	require.NoError(t, err)
	assert.Equal(t, blob, fetched, "Fetch should fall back to the replica")

	offline.AssertNotCalled(t, "Store", mock.Anything, mock.Anything, mock.Anything)
	offline.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything, mock.Anything)
}

func TestMultiStorageBackend_FetchErrors(t *testing.T) {
	ctx := context.Background()
	id := interfaces.ComputeID([]byte("sealed record"))
	ioErr := errors.New("connection reset")

	type answer struct {
		available bool
		data      []byte
		err       error
	}

	tests := []struct {
		name        string
		answers     []answer
		want        []byte
		notFound    bool
		unavailable bool
	}{
		{
			name:     "every backend reports not found",
			answers:  []answer{{true, nil, interfaces.ErrContentNotFound}, {true, nil, interfaces.ErrContentNotFound}},
			notFound: true,
		},
		{
			name:        "not found next to a failing backend",
			answers:     []answer{{true, nil, interfaces.ErrContentNotFound}, {true, nil, ioErr}},
			unavailable: true,
		},
		{
			name:        "not found next to an offline backend",
			answers:     []answer{{false, nil, nil}, {true, nil, interfaces.ErrContentNotFound}},
			unavailable: true,
		},
		{
			name:        "every backend offline",
			answers:     []answer{{false, nil, nil}, {false, nil, nil}},
			unavailable: true,
		},
		{
			name:    "failure then hit",
			answers: []answer{{true, nil, ioErr}, {true, []byte("sealed record"), nil}},
			want:    []byte("sealed record"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var backends []interfaces.StorageBackend
			for i, a := range tt.answers {
				b := &MockStorageBackend{name: string(rune('a' + i))}
				b.On("Available", mock.Anything).Return(a.available)
				if a.available {
					b.On("Fetch", mock.Anything, id, interfaces.SealedRecordType).Return(a.data, a.err)
				}
				backends = append(backends, b)
			}

			data, err := NewMultiStorageBackend(backends, nil).Fetch(ctx, id, interfaces.SealedRecordType)
			if tt.want != nil {
				require.NoError(t, err)
				assert.Equal(t, tt.want, data)
				return
			}

			require.Error(t, err)
			assert.Equal(t, tt.notFound, errors.Is(err, interfaces.ErrContentNotFound))
			assert.Equal(t, tt.unavailable, errors.Is(err, interfaces.ErrBackendUnavailable))
		})
	}
}

func TestMultiStorageBackend_StoreErrors(t *testing.T) {
	ctx := context.Background()
	blob := []byte("sealed key")
	id := interfaces.ComputeID(blob)

	t.Run("one backend stores", func(t *testing.T) {
		failing := &MockStorageBackend{name: "failing"}
		failing.On("Available", mock.Anything).Return(true)
		failing.On("Store", mock.Anything, blob, interfaces.SealedKeyType).Return(interfaces.ContentID{}, errors.New("bucket is read-only"))

		working := &MockStorageBackend{name: "working"}
		working.On("Available", mock.Anything).Return(true)
		working.On("Store", mock.Anything, blob, interfaces.SealedKeyType).Return(id, nil)

		got, err := NewMultiStorageBackend([]interfaces.StorageBackend{failing, working}, nil).Store(ctx, blob, interfaces.SealedKeyType)
		require.NoError(t, err)
		assert.Equal(t, id, got)
		working.AssertExpectations(t)
	})

	t.Run("every backend fails", func(t *testing.T) {
		failing := &MockStorageBackend{name: "failing"}
		failing.On("Available", mock.Anything).Return(true)
		failing.On("Store", mock.Anything, blob, interfaces.SealedKeyType).Return(interfaces.ContentID{}, errors.New("quota exceeded"))

		_, err := NewMultiStorageBackend([]interfaces.StorageBackend{failing, unavailableBackend("offline")}, nil).Store(ctx, blob, interfaces.SealedKeyType)
		assert.ErrorIs(t, err, interfaces.ErrBackendUnavailable)
		assert.ErrorContains(t, err, "failing: quota exceeded")
	})

	t.Run("no backend available", func(t *testing.T) {
		multi := NewMultiStorageBackend([]interfaces.StorageBackend{unavailableBackend("offline")}, nil)
		assert.False(t, multi.Available(ctx))

		_, err := multi.Store(ctx, blob, interfaces.SealedKeyType)
		assert.ErrorIs(t, err, interfaces.ErrBackendUnavailable)
	})
}
