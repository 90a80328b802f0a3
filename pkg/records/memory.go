package records

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

const memoryScheme = "memory://"

// MemoryStore keeps encoded records in process memory. Records do not survive
// a restart, so it is only meant for local runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	pages   map[string]string
	counter int
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{pages: map[string]string{}}
}

func (m *MemoryStore) Write(_ context.Context, r Record) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.counter++
	ref := fmt.Sprintf("%srecord-%d", memoryScheme, m.counter)
	m.pages[ref] = Encode(r)
	return ref, nil
}

func (m *MemoryStore) Read(_ context.Context, ref string) (Record, error) {
	m.mu.RLock()
	content, ok := m.pages[ref]
	m.mu.RUnlock()
	if !ok {
		return Record{}, errors.Errorf("record %s not found", ref)
	}
	return Decode(content)
}

func (m *MemoryStore) Owns(ref string) bool {
	return strings.HasPrefix(ref, memoryScheme)
}

// Len returns the number of records written so far.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pages)
}
