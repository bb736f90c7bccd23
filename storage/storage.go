package storage

import (
	"context"
	"errors"

	"github.com/ipld/go-ipld-prime/storage"
)

var ErrNotFound = errors.New("key not found")

// Storage is a key value store for encoded blocks and small metadata values.
type Storage interface {
	storage.ReadableStorage
	storage.WritableStorage
}

// Batcher is implemented by storage backends that can write many values atomically.
type Batcher interface {
	PutBatch(ctx context.Context, values map[string][]byte) error
}

// PutBatch writes all values to the given storage.
//
// The write is atomic when the storage implements Batcher.
func PutBatch(ctx context.Context, store Storage, values map[string][]byte) error {
	if b, ok := store.(Batcher); ok {
		return b.PutBatch(ctx, values)
	}
	for k, v := range values {
		if err := store.Put(ctx, k, v); err != nil {
			return err
		}
	}
	return nil
}
