package storage

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

// KVStore layers RLP encoding over a Database so callers can persist typed
// records.
type KVStore struct {
	db Database
}

// NewKVStore wraps the supplied database.
func NewKVStore(db Database) *KVStore {
	return &KVStore{db: db}
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed.
func (s *KVStore) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := s.db.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("kv: get %s: %w", key, err)
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("kv: decode %s: %w", key, err)
	}
	return true, nil
}

// KVPut stores the provided value under the supplied key using RLP encoding.
func (s *KVStore) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("kv: encode %s: %w", key, err)
	}
	return s.db.Put(key, encoded)
}

// NewWriteSet starts an atomic group of typed writes.
func (s *KVStore) NewWriteSet() *WriteSet {
	return &WriteSet{batch: s.db.NewBatch()}
}

// WriteSet encodes every value up front; a single encoding failure discards the
// whole set before anything reaches the database.
type WriteSet struct {
	batch Batch
	err   error
}

// Put queues value under key.
func (w *WriteSet) Put(key []byte, value interface{}) {
	if w.err != nil {
		return
	}
	if len(key) == 0 {
		w.err = fmt.Errorf("kv: key must not be empty")
		return
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		w.err = fmt.Errorf("kv: encode %s: %w", key, err)
		return
	}
	w.batch.Put(key, encoded)
}

// Commit writes every queued value atomically.
func (w *WriteSet) Commit() error {
	if w.err != nil {
		return w.err
	}
	return w.batch.Write()
}
