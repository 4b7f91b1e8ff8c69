// Package store is the persistent, typed, namespaced key-value store (C2).
// It must survive power loss: every Set commits its own badger transaction
// immediately, and Commit forces a value-log sync so a caller that needs
// "persisted before proceeding" (the security nonce, per §4.5) can block on
// durability rather than trusting the OS write-back cache.
package store

import (
	"encoding/json"
	"errors"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/RPX2001/ecowatt-edge-gateway/internal/gwerrors"
)

// Store wraps a badger database with a namespaced, typed accessor contract:
// get<T>(namespace, key) -> option<T>, set<T>(namespace, key, value) -> result,
// commit() -> result.
type Store struct {
	db *badger.DB
}

// Open opens (creating if absent) the persistent store rooted at dataDir.
func Open(dataDir string) (*Store, error) {
	opts := badger.DefaultOptions(dataDir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.PermanentConfig, "store", "open", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Commit forces the value log to sync, giving callers a durability barrier
// for read-modify-write sequences that must survive power loss before the
// caller is allowed to proceed (e.g. incrementing the security nonce).
func (s *Store) Commit() error {
	if err := s.db.Sync(); err != nil {
		return gwerrors.Wrap(gwerrors.PermanentConfig, "store", "commit", err)
	}
	return nil
}

func fullKey(namespace, key string) []byte {
	return []byte(namespace + "/" + key)
}

// Get retrieves and JSON-decodes a typed value. ok is false and err is nil
// when the key is absent — per C2's failure semantics the caller is
// expected to substitute its own compiled-in default in that case.
func Get[T any](s *Store, namespace, key string) (value T, ok bool, err error) {
	fk := fullKey(namespace, key)
	txErr := s.db.View(func(txn *badger.Txn) error {
		item, getErr := txn.Get(fk)
		if errors.Is(getErr, badger.ErrKeyNotFound) {
			return nil
		}
		if getErr != nil {
			return getErr
		}
		return item.Value(func(val []byte) error {
			if unmarshalErr := json.Unmarshal(val, &value); unmarshalErr != nil {
				return unmarshalErr
			}
			ok = true
			return nil
		})
	})
	if txErr != nil {
		return value, false, gwerrors.Wrap(gwerrors.PermanentConfig, "store", "get", txErr)
	}
	return value, ok, nil
}

// GetOrDefault is Get with the compiled-in default substituted on a miss,
// matching C2's "a read that finds nothing returns the compiled-in
// default" contract directly.
func GetOrDefault[T any](s *Store, namespace, key string, def T) (T, error) {
	v, ok, err := Get[T](s, namespace, key)
	if err != nil {
		return def, err
	}
	if !ok {
		return def, nil
	}
	return v, nil
}

// Set JSON-encodes value and commits it in its own transaction. A failed
// write surfaces the error to the caller, which per C2's contract must not
// proceed as if the value were persisted.
func Set[T any](s *Store, namespace, key string, value T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return gwerrors.Wrap(gwerrors.PermanentConfig, "store", "set", err)
	}
	fk := fullKey(namespace, key)
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(fk, data)
	}); err != nil {
		return gwerrors.Wrap(gwerrors.PermanentConfig, "store", "set", err)
	}
	return nil
}

// Delete removes a key. Absence is not an error.
func Delete(s *Store, namespace, key string) error {
	fk := fullKey(namespace, key)
	if err := s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(fk)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	}); err != nil {
		return gwerrors.Wrap(gwerrors.PermanentConfig, "store", "delete", err)
	}
	return nil
}
