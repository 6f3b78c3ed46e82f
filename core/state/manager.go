package state

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"coinfort/storage"
)

// KV is the typed key/value surface every native module persists through.
// Both the Manager (auto-commit) and Tx (journaled) satisfy it.
type KV interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

var errTxDone = errors.New("state: transaction already finished")

// Manager provides RLP-encoded reads and writes over a storage backend. Writes
// issued through a Tx become visible to readers in a single step.
//
// Writers are serialized: Update holds writeMu from the first read of its
// callback until the commit lands, and direct KVPut/KVDelete calls queue behind
// it. mu only guards the backend against readers seeing a half-applied batch.
type Manager struct {
	writeMu sync.Mutex
	mu      sync.RWMutex
	db      storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func (m *Manager) rawGet(hashed []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, err := m.db.Get(hashed)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return data, err
}

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is hashed with keccak256 before it reaches the backend.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Put(kvKey(key), encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.rawGet(kvKey(key))
	if err != nil {
		return false, err
	}
	return decodeInto(data, out)
}

// KVDelete removes the value stored under key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Delete(kvKey(key))
}

// Begin opens a journaled transaction. Nothing written through the returned Tx
// is visible outside it until Commit. Begin does not take the writer lock, so a
// Tx committed by hand may race other writers; shared callers use Update.
func (m *Manager) Begin() *Tx {
	return &Tx{m: m, writes: make(map[string][]byte)}
}

// Update runs fn inside a transaction and commits it when fn returns nil. Any
// error discards every write fn made. Concurrent Updates run one at a time, so
// the values fn reads cannot change underneath it before its commit. fn must not
// write through the Manager directly.
func (m *Manager) Update(fn func(kv KV) error) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	tx := m.Begin()
	if err := fn(tx); err != nil {
		tx.Discard()
		return err
	}
	return tx.Commit()
}

// Tx buffers writes on top of a Manager and applies them as one storage batch.
type Tx struct {
	m      *Manager
	writes map[string][]byte // nil value marks a delete
	order  []string
	done   bool
}

func (t *Tx) stage(hashed []byte, value []byte) {
	k := string(hashed)
	if _, seen := t.writes[k]; !seen {
		t.order = append(t.order, k)
	}
	t.writes[k] = value
}

// KVPut stages an RLP-encoded write.
func (t *Tx) KVPut(key []byte, value interface{}) error {
	if t.done {
		return errTxDone
	}
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	t.stage(kvKey(key), encoded)
	return nil
}

// KVGet reads through the journal first and falls back to committed state.
func (t *Tx) KVGet(key []byte, out interface{}) (bool, error) {
	if t.done {
		return false, errTxDone
	}
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	hashed := kvKey(key)
	if staged, ok := t.writes[string(hashed)]; ok {
		return decodeInto(staged, out)
	}
	data, err := t.m.rawGet(hashed)
	if err != nil {
		return false, err
	}
	return decodeInto(data, out)
}

// KVDelete stages a delete.
func (t *Tx) KVDelete(key []byte) error {
	if t.done {
		return errTxDone
	}
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	t.stage(kvKey(key), nil)
	return nil
}

// Len reports the number of distinct keys written so far.
func (t *Tx) Len() int { return len(t.order) }

// Commit applies every staged write in one storage batch while holding the
// manager's write lock, so readers observe all of it or none of it.
func (t *Tx) Commit() error {
	if t.done {
		return errTxDone
	}
	t.done = true
	if len(t.order) == 0 {
		return nil
	}
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	batch := t.m.db.NewBatch()
	for _, k := range t.order {
		value := t.writes[k]
		if value == nil {
			batch.Delete([]byte(k))
			continue
		}
		batch.Put([]byte(k), value)
	}
	return batch.Write()
}

// Discard drops every staged write. Safe to call after Commit.
func (t *Tx) Discard() {
	t.done = true
	t.writes = nil
	t.order = nil
}

func decodeInto(data []byte, out interface{}) (bool, error) {
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVAppend appends value to the RLP-encoded byte slice list stored under key.
// Duplicate values are ignored to keep the index deterministic.
func KVAppend(kv KV, key []byte, value []byte) error {
	var list [][]byte
	if _, err := kv.KVGet(key, &list); err != nil {
		return err
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	return kv.KVPut(key, list)
}

// KVGetList decodes the list stored under key into out, leaving an empty slice
// when the key has never been written.
func KVGetList(kv KV, key []byte, out interface{}) error {
	val := reflect.ValueOf(out)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return fmt.Errorf("kv: destination must be a non-nil pointer")
	}
	elem := val.Elem()
	if elem.Kind() != reflect.Slice {
		return fmt.Errorf("kv: destination must point to a slice")
	}
	ok, err := kv.KVGet(key, out)
	if err != nil {
		return err
	}
	if !ok {
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
	}
	return nil
}
