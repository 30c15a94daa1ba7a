package state

import (
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"nhbmarket/storage"
)

// statePrefix namespaces hashed KV entries inside the shared database.
var statePrefix = []byte("state/")

type dirtyValue struct {
	value   []byte
	deleted bool
}

type journalEntry struct {
	key     string
	prev    dirtyValue
	hadPrev bool
}

// Manager stages reads and writes over a storage.Database. Writes are kept in
// an in-memory overlay until Commit flushes them as a single atomic batch.
// Snapshot and RevertToSnapshot give callers nested all-or-nothing sections
// within one overlay.
//
// Manager is not safe for concurrent use.
type Manager struct {
	db      storage.Database
	dirty   map[string]dirtyValue
	journal []journalEntry
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, dirty: make(map[string]dirtyValue)}
}

func kvKey(key []byte) []byte {
	hashed := ethcrypto.Keccak256(key)
	out := make([]byte, 0, len(statePrefix)+len(hashed))
	out = append(out, statePrefix...)
	return append(out, hashed...)
}

func (m *Manager) read(key []byte) ([]byte, bool, error) {
	if entry, ok := m.dirty[string(key)]; ok {
		if entry.deleted {
			return nil, false, nil
		}
		return entry.value, true, nil
	}
	if m.db == nil {
		return nil, false, errors.New("state: database not configured")
	}
	value, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (m *Manager) write(key []byte, entry dirtyValue) {
	k := string(key)
	prev, hadPrev := m.dirty[k]
	m.journal = append(m.journal, journalEntry{key: k, prev: prev, hadPrev: hadPrev})
	m.dirty[k] = entry
}

// PutRaw stages value under the literal key, bypassing hashing and encoding.
func (m *Manager) PutRaw(key, value []byte) {
	m.write(key, dirtyValue{value: append([]byte(nil), value...)})
}

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is hashed with keccak256 before it reaches the database.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.write(kvKey(key), dirtyValue{value: encoded})
	return nil
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, ok, err := m.read(kvKey(key))
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

// KVDelete stages removal of the supplied key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	m.write(kvKey(key), dirtyValue{deleted: true})
	return nil
}

// Snapshot returns an identifier for the current overlay revision.
func (m *Manager) Snapshot() int {
	return len(m.journal)
}

// RevertToSnapshot undoes every staged write made after the snapshot was
// taken. Reverting to an unknown identifier is a no-op.
func (m *Manager) RevertToSnapshot(id int) {
	if id < 0 || id > len(m.journal) {
		return
	}
	for i := len(m.journal) - 1; i >= id; i-- {
		entry := m.journal[i]
		if entry.hadPrev {
			m.dirty[entry.key] = entry.prev
		} else {
			delete(m.dirty, entry.key)
		}
	}
	m.journal = m.journal[:id]
}

// Dirty reports the number of keys with staged changes.
func (m *Manager) Dirty() int {
	return len(m.dirty)
}

// Commit writes the overlay to the database in one batch and clears it.
func (m *Manager) Commit() error {
	if len(m.dirty) == 0 {
		return nil
	}
	if m.db == nil {
		return errors.New("state: database not configured")
	}
	batch := m.db.NewBatch()
	for key, entry := range m.dirty {
		if entry.deleted {
			batch.Delete([]byte(key))
			continue
		}
		batch.Put([]byte(key), entry.value)
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	m.Discard()
	return nil
}

// Discard drops every staged write.
func (m *Manager) Discard() {
	m.dirty = make(map[string]dirtyValue)
	m.journal = nil
}
