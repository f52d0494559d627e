package artifact

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned by a Store that holds nothing for a key.
var ErrCacheMiss = errors.New("artifact not in store")

// Metadata describes a stored artifact.
type Metadata struct {
	Kind      string
	Key       string
	BuildID   string
	CreatedAt time.Time
	Size      int64
	Dir       bool
	Host      string
}

// Store is a cross-run cache of artifacts keyed by fingerprint.
type Store interface {
	// Restore materializes the artifact stored under (kind, key) at dest,
	// which must not exist. It returns ErrCacheMiss when nothing is stored.
	Restore(ctx context.Context, kind, key, dest string) (Metadata, error)
	// Save copies source into the store under (kind, key).
	Save(ctx context.Context, kind, key, source string, meta Metadata) error
}

// TryRestore restores (kind, key) into final through a work/final swap.
// A miss returns false with no error and leaves final untouched.
func (b *Builder) TryRestore(ctx context.Context, store Store, job Job, kind, key string) (bool, Metadata, error) {
	var meta Metadata
	job.Produce = func(ctx context.Context, work string) error {
		m, err := store.Restore(ctx, kind, key, work)
		meta = m
		return err
	}

	err := b.BuildAtomic(ctx, job)
	switch {
	case errors.Is(err, ErrCacheMiss):
		return false, Metadata{}, nil
	case err != nil:
		return false, Metadata{}, err
	}
	return true, meta, nil
}
