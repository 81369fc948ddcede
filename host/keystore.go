package host

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ruteri/tee-keyseal/interfaces"
)

// KeyStore keeps sealed blobs in a content-addressed backend. It never
// looks inside a blob; it only checks that the bytes it gets back hash to
// the requested ID.
type KeyStore struct {
	backend interfaces.StorageBackend
	log     *slog.Logger
}

// NewKeyStore wraps backend.
func NewKeyStore(backend interfaces.StorageBackend, log *slog.Logger) *KeyStore {
	if log == nil {
		log = slog.Default()
	}
	return &KeyStore{backend: backend, log: log}
}

// PutSealedKey stores a sealed secret key.
func (s *KeyStore) PutSealedKey(ctx context.Context, blob interfaces.SealedBlob) (interfaces.ContentID, error) {
	return s.put(ctx, blob, interfaces.SealedKeyType)
}

// GetSealedKey loads a sealed secret key.
func (s *KeyStore) GetSealedKey(ctx context.Context, id interfaces.ContentID) (interfaces.SealedBlob, error) {
	return s.get(ctx, id, interfaces.SealedKeyType)
}

// PutSealedRecord stores any other sealed record.
func (s *KeyStore) PutSealedRecord(ctx context.Context, blob interfaces.SealedBlob) (interfaces.ContentID, error) {
	return s.put(ctx, blob, interfaces.SealedRecordType)
}

// GetSealedRecord loads a sealed record.
func (s *KeyStore) GetSealedRecord(ctx context.Context, id interfaces.ContentID) (interfaces.SealedBlob, error) {
	return s.get(ctx, id, interfaces.SealedRecordType)
}

func (s *KeyStore) put(ctx context.Context, blob interfaces.SealedBlob, contentType interfaces.ContentType) (interfaces.ContentID, error) {
	if len(blob) == 0 {
		return interfaces.ContentID{}, fmt.Errorf("%w: empty sealed blob", interfaces.ErrInvalidParameter)
	}

	id, err := s.backend.Store(ctx, blob, contentType)
	if err != nil {
		return id, fmt.Errorf("failed to store %s: %w", contentType, err)
	}
	if id != blob.ContentID() {
		return id, fmt.Errorf("backend %s returned content ID %s for %s", s.backend.Name(), id, blob.ContentID())
	}

	s.log.Debug("Stored sealed blob", "type", contentType.String(), "id", id.String(), "size", len(blob))
	return id, nil
}

func (s *KeyStore) get(ctx context.Context, id interfaces.ContentID, contentType interfaces.ContentType) (interfaces.SealedBlob, error) {
	data, err := s.backend.Fetch(ctx, id, contentType)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s %s: %w", contentType, id, err)
	}

	blob := interfaces.SealedBlob(data)
	if blob.ContentID() != id {
		s.log.Error("Backend returned a blob that does not match its content ID", "backend", s.backend.Name(), "id", id.String())
		return nil, fmt.Errorf("%w: stored %s does not match content ID %s", interfaces.ErrIntegrity, contentType, id)
	}
	return blob, nil
}
