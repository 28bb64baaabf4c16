package keystore

import (
	"context"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/pkg/errors"
)

// PebbleBackend stores records in an embedded Pebble database. Pebble holds
// an exclusive lock on its directory, so the mutex is enough to make PutOnce
// atomic.
type PebbleBackend struct {
	mu sync.Mutex
	db *pebble.DB
}

// NewPebbleBackend opens or creates the database at dir. An empty dir opens
// a database on an in-memory filesystem.
func NewPebbleBackend(dir string) (*PebbleBackend, error) {
	opts := &pebble.Options{}
	if dir == "" {
		opts.FS = vfs.NewMem()
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "open pebble at %q", dir)
	}
	return &PebbleBackend{db: db}, nil
}

func (p *PebbleBackend) PutOnce(_ context.Context, key string, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, closer, err := p.db.Get([]byte(key))
	switch {
	case err == nil:
		closer.Close()
		return ErrAlreadyExists
	case !errors.Is(err, pebble.ErrNotFound):
		return errors.Wrap(err, "pebble get")
	}
	if err := p.db.Set([]byte(key), value, pebble.Sync); err != nil {
		return errors.Wrap(err, "pebble set")
	}
	return nil
}

func (p *PebbleBackend) Load(_ context.Context, key string) ([]byte, error) {
	v, closer, err := p.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "pebble get")
	}
	defer closer.Close()
	return append([]byte(nil), v...), nil
}

func (p *PebbleBackend) Name() string { return "pebble" }

func (p *PebbleBackend) Close() error { return p.db.Close() }
