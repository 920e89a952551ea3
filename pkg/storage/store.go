// Package storage provides a Pebble-backed key/value persistence hook
// used by the ledger, order book, message store, and deposit ingestor
// to snapshot their in-memory state. Every domain package treats a nil
// *Store as "persistence disabled" so unit tests can run entirely
// in-memory, matching how the teacher's account store is a thin
// JSON-over-Pebble layer beneath AccountManager's in-memory maps.
package storage

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// Store wraps a single Pebble database. Callers define their own key
// encodings (see the *Key helpers in keys.go) and JSON-encode values through
// PutJSON/GetJSON.
type Store struct {
	db *pebble.DB
}

// Open opens (creating if absent) a Pebble database at path.
func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// PutJSON marshals v and writes it synchronously under key.
func (s *Store) PutJSON(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("storage: marshal: %w", err)
	}
	if err := s.db.Set(key, data, pebble.Sync); err != nil {
		return fmt.Errorf("storage: set: %w", err)
	}
	return nil
}

// GetJSON unmarshals the value at key into v. Returns found=false
// (without error) when the key is absent.
func (s *Store) GetJSON(key []byte, v any) (found bool, err error) {
	data, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage: get: %w", err)
	}
	defer closer.Close()
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("storage: unmarshal: %w", err)
	}
	return true, nil
}

// Delete removes the value at key, if present.
func (s *Store) Delete(key []byte) error {
	if err := s.db.Delete(key, pebble.Sync); err != nil {
		return fmt.Errorf("storage: delete: %w", err)
	}
	return nil
}

// IteratePrefix calls fn with the raw value bytes for every key sharing
// prefix, in lexicographic key order. Iteration stops at the first
// error returned by fn.
func (s *Store) IteratePrefix(prefix []byte, fn func(value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("storage: iterate: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// prefixUpperBound returns the exclusive upper bound for a lexicographic
// scan over keys sharing prefix.
func prefixUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	for i := len(bound) - 1; i >= 0; i-- {
		if bound[i] < 0xff {
			bound[i]++
			return bound[:i+1]
		}
	}
	return nil // prefix is all 0xff: unbounded scan
}
