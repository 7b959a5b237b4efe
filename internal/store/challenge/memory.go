package challenge

import (
	"sync"
	"time"

	"github.com/openwrt/webauthn-helper/internal/apperr"
)

// Memory is an in-memory Store, substituted for FileStore in tests per the
// polymorphism-for-testing design (spec §9): same TTL and single-use
// semantics, no filesystem.
type Memory struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemory returns an empty in-memory challenge store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]Record)}
}

func (m *Memory) Put(rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = rec
	return nil
}

func (m *Memory) Take(id string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	delete(m.records, id)
	if !ok {
		return Record{}, apperr.NewChallengeNotFound("challenge %s not found", id)
	}
	if time.Since(rec.CreatedAt) > TTL {
		return Record{}, apperr.NewChallengeNotFound("challenge %s expired", id)
	}
	return rec, nil
}

func (m *Memory) Cleanup() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, rec := range m.records {
		if time.Since(rec.CreatedAt) > TTL {
			delete(m.records, id)
			removed++
		}
	}
	return removed, nil
}
