package credential

import (
	"bytes"
	"sync"

	"github.com/openwrt/webauthn-helper/internal/apperr"
)

// Memory is an in-memory Store, substituted for FileStore in tests per the
// polymorphism-for-testing design (spec §9).
type Memory struct {
	mu      sync.Mutex
	records []Record
}

// NewMemory returns an empty in-memory credential store.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) indexOf(id []byte) int {
	for i, r := range m.records {
		if bytes.Equal(r.CredentialID, id) {
			return i
		}
	}
	return -1
}

func (m *Memory) Load() ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out, nil
}

func (m *Memory) Insert(rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.indexOf(rec.CredentialID) >= 0 {
		return apperr.NewInvalidInput("credential already registered")
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *Memory) FindByID(id []byte) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.indexOf(id); i >= 0 {
		return m.records[i], nil
	}
	return Record{}, apperr.NewCredentialNotFound("credential not found")
}

func (m *Memory) ListByUsername(username string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		if r.Username == username {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) ListAll() ([]Record, error) {
	return m.Load()
}

func (m *Memory) Update(id []byte, mutate func(*Record) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.indexOf(id)
	if i < 0 {
		return apperr.NewCredentialNotFound("credential not found")
	}
	rec := m.records[i]
	if err := mutate(&rec); err != nil {
		return err
	}
	m.records[i] = rec
	return nil
}

func (m *Memory) Delete(id []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.indexOf(id)
	if i < 0 {
		return apperr.NewCredentialNotFound("credential not found")
	}
	m.records = append(m.records[:i], m.records[i+1:]...)
	return nil
}
