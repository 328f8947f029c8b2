package blobstore

import (
	"context"
	"errors"
	"fmt"
)

// ErrReadOnly is returned by mutating operations on a read-only store.
var ErrReadOnly = errors.New("store is read-only")

// ReadOnly wraps a Store so every mutating operation fails with ErrReadOnly
// before reaching the backend. Datasets opened read-only wrap their store
// with it once, which keeps the guard out of every write path.
func ReadOnly(s Store) Store {
	return &readOnlyStore{inner: s}
}

// IsReadOnly reports whether the store rejects writes.
func IsReadOnly(s Store) bool {
	_, ok := s.(*readOnlyStore)
	return ok
}

type readOnlyStore struct {
	inner Store
}

func (s *readOnlyStore) Open(ctx context.Context, name string) (Blob, error) {
	return s.inner.Open(ctx, name)
}

func (s *readOnlyStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

func (s *readOnlyStore) Create(_ context.Context, name string) (WritableBlob, error) {
	return nil, fmt.Errorf("create %q: %w", name, ErrReadOnly)
}

func (s *readOnlyStore) Put(_ context.Context, name string, _ []byte) error {
	return fmt.Errorf("put %q: %w", name, ErrReadOnly)
}

func (s *readOnlyStore) Delete(_ context.Context, name string) error {
	return fmt.Errorf("delete %q: %w", name, ErrReadOnly)
}
