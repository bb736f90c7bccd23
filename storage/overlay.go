package storage

import (
	"context"
	"sync"
)

// Overlay buffers writes in memory on top of a base storage.
//
// Reads see buffered values first. Nothing reaches the base storage until Flush.
type Overlay struct {
	base   Storage
	staged map[string][]byte
	lock   sync.RWMutex
}

// NewOverlay returns an Overlay that reads through to the given base storage.
func NewOverlay(base Storage) *Overlay {
	return &Overlay{
		base:   base,
		staged: make(map[string][]byte),
	}
}

func (o *Overlay) Has(ctx context.Context, key string) (bool, error) {
	o.lock.RLock()
	_, ok := o.staged[key]
	o.lock.RUnlock()
	if ok {
		return true, nil
	}
	return o.base.Has(ctx, key)
}

func (o *Overlay) Get(ctx context.Context, key string) ([]byte, error) {
	o.lock.RLock()
	content, ok := o.staged[key]
	o.lock.RUnlock()
	if !ok {
		return o.base.Get(ctx, key)
	}
	val := make([]byte, len(content))
	copy(val, content)
	return val, nil
}

func (o *Overlay) Put(ctx context.Context, key string, content []byte) error {
	o.lock.Lock()
	defer o.lock.Unlock()

	val := make([]byte, len(content))
	copy(val, content)
	o.staged[key] = val
	return nil
}

// Len returns the number of buffered values.
func (o *Overlay) Len() int {
	o.lock.RLock()
	defer o.lock.RUnlock()

	return len(o.staged)
}

// Flush writes all buffered values to the base storage as one batch and clears the buffer.
func (o *Overlay) Flush(ctx context.Context) error {
	o.lock.Lock()
	defer o.lock.Unlock()

	if err := PutBatch(ctx, o.base, o.staged); err != nil {
		return err
	}
	o.staged = make(map[string][]byte)
	return nil
}

// Discard drops all buffered values.
func (o *Overlay) Discard() {
	o.lock.Lock()
	defer o.lock.Unlock()

	o.staged = make(map[string][]byte)
}
