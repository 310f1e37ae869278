// Package storage persists host-side chunk storage across restarts. It
// knows nothing about chunk or pixel formats: callers hand it opaque
// byte blobs keyed by a string name (the core stores its whole chunk
// storage as one blob under "world_chunks"), the way a save-file
// format is kept external to the synchronization core that uses it.
package storage

import (
	"fmt"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
)

// worldChunksBucket is the fixed bucket name the core's save/load
// lifecycle keys its entries under.
var worldChunksBucket = []byte("world_chunks")

// SaveState is a bbolt-backed key/value store for one save-state
// entry. Construction opens (creating if absent) a single file; the
// caller is responsible for closing it once, typically at host
// shutdown.
type SaveState struct {
	db *bbolt.DB
}

// Open opens or creates the bbolt file at path and ensures the
// world_chunks bucket exists.
func Open(path string) (*SaveState, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, errors.Wrap(err, "opening save state file")
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(worldChunksBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating world_chunks bucket")
	}
	return &SaveState{db: db}, nil
}

// Get returns the stored blob for key, and whether it was present.
func (s *SaveState) Get(key string) (data []byte, ok bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(worldChunksBucket).Get([]byte(key))
		if v == nil {
			return nil
		}
		ok = true
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, false, errors.Wrap(err, "reading save state entry")
	}
	return data, ok, nil
}

// Set stores data under key, overwriting any previous value.
func (s *SaveState) Set(key string, data []byte) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(worldChunksBucket).Put([]byte(key), data)
	})
	if err != nil {
		return errors.Wrap(err, "writing save state entry")
	}
	return nil
}

// Delete removes key, if present.
func (s *SaveState) Delete(key string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(worldChunksBucket).Delete([]byte(key))
	})
	return errors.Wrap(err, "deleting save state entry")
}

// ForEach calls fn once per stored key/value pair, in bbolt's
// byte-sorted key order.
func (s *SaveState) ForEach(fn func(key string, data []byte) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(worldChunksBucket).ForEach(func(k, v []byte) error {
			return fn(string(k), append([]byte(nil), v...))
		})
	})
}

func (s *SaveState) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing save state: %w", err)
	}
	return nil
}
