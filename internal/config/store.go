package config

import "sync"

// SettingsStore is the durable key/value store backing mutable runtime
// state: the upload directory registry, the current folder id pointer,
// per-base rotation counters and the full-disk notification latch.
// The Postgres implementation lives in storage/pg; MemoryStore serves
// tests and single-node setups.
type SettingsStore interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Delete(key string) error
}

// Well-known settings keys.
const (
	KeyDirectories    = "attachment_directories" // JSON {folderId: path}
	KeyCurrentFolder  = "attachment_current_folder"
	KeyBaseCounters   = "attachment_base_counters" // JSON {baseDir: n}
	KeyFullNotified   = "attachment_full_notified"
	KeyRotationPolicy = "attachment_rotation_policy"
)

type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (m *MemoryStore) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}
