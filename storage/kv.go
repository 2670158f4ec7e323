package storage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/rlp"
)

// Writer is the write side shared by Database and Batch.
type Writer interface {
	Put(key []byte, value []byte) error
}

// Reader is the read side of a Database.
type Reader interface {
	Get(key []byte) ([]byte, error)
}

// KVPut RLP-encodes value and stores it under key.
func KVPut(w Writer, key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("storage: encode %q: %w", key, err)
	}
	return w.Put(key, encoded)
}

// KVGet decodes the value stored under key into out. It reports false when
// the key is absent.
func KVGet(r Reader, key []byte, out interface{}) (bool, error) {
	encoded, err := r.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(encoded, out); err != nil {
		return false, fmt.Errorf("storage: decode %q: %w", key, err)
	}
	return true, nil
}

// Open constructs a backend by name. Supported backends are "memory",
// "leveldb" and "bolt".
func Open(backend, path string) (Database, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", "leveldb":
		if strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("storage: leveldb path required")
		}
		return NewLevelDB(path)
	case "bolt", "bbolt":
		if strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("storage: bolt path required")
		}
		return NewBoltDB(path, nil)
	case "memory", "mem":
		return NewMemDB(), nil
	default:
		return nil, fmt.Errorf("storage: unsupported backend %q", backend)
	}
}
