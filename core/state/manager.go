package state

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"slimhogs/storage"
)

// Manager reads and writes registry state on top of a key/value database.
// Multi-key updates go through a single storage batch.
type Manager struct {
	db storage.Database
	mu sync.Mutex
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func prefixedKey(prefix []byte, suffix []byte) []byte {
	buf := make([]byte, len(prefix)+len(suffix))
	copy(buf, prefix)
	copy(buf[len(prefix):], suffix)
	return ethcrypto.Keccak256(buf)
}

func (m *Manager) get(key []byte) ([]byte, bool, error) {
	if m == nil || m.db == nil {
		return nil, false, fmt.Errorf("state: manager unavailable")
	}
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, len(data) > 0, nil
}

func (m *Manager) loadBigInt(key []byte) (*big.Int, error) {
	data, ok, err := m.get(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	value := new(big.Int)
	if err := rlp.DecodeBytes(data, value); err != nil {
		return nil, err
	}
	return value, nil
}

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is hashed with keccak256 so callers cannot collide with record keys.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	if m == nil || m.db == nil {
		return fmt.Errorf("state: manager unavailable")
	}
	return m.db.Put(kvKey(key), encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, ok, err := m.get(kvKey(key))
	if err != nil || !ok {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

type preimage struct {
	key     []byte
	value   []byte
	existed bool
}

// writeAtomically captures the current value of every key in writes and then
// applies all writes in one batch. The returned closure restores the captured
// values, again in one batch.
func (m *Manager) writeAtomically(writes map[string][]byte) (func() error, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	previous := make([]preimage, 0, len(writes))
	batch := m.db.NewBatch()
	for key, value := range writes {
		old, ok, err := m.get([]byte(key))
		if err != nil {
			return nil, err
		}
		previous = append(previous, preimage{key: []byte(key), value: old, existed: ok})
		batch.Put([]byte(key), value)
	}
	if err := batch.Write(); err != nil {
		return nil, err
	}
	return func() error {
		m.mu.Lock()
		defer m.mu.Unlock()
		undo := m.db.NewBatch()
		for _, p := range previous {
			if p.existed {
				undo.Put(p.key, p.value)
				continue
			}
			undo.Delete(p.key)
		}
		return undo.Write()
	}, nil
}
