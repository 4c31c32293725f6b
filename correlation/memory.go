package correlation

import (
	"sync"

	"github.com/interledger/connector/ilp"
)

// MemoryStore keeps correlations in memory. Its contents are lost on restart,
// which makes it suitable for tests and throwaway connectors only.
type MemoryStore struct {
	mu           sync.RWMutex
	correlations map[ilp.TransferID]*TransferCorrelation
}

// A compile-time check to ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		correlations: make(map[ilp.TransferID]*TransferCorrelation),
	}
}

// Save records the correlation.
func (m *MemoryStore) Save(c *TransferCorrelation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.correlations[c.Key()] = c

	return nil
}

// FindByDestinationTransferID returns the correlation for the destination
// transfer id.
func (m *MemoryStore) FindByDestinationTransferID(
	id ilp.TransferID) (*TransferCorrelation, error) {

	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.correlations[id]
	if !ok {
		return nil, ErrCorrelationNotFound
	}

	return c, nil
}

// ForEach calls cb for every stored correlation, in no particular order.
func (m *MemoryStore) ForEach(cb func(*TransferCorrelation) error) error {
	m.mu.RLock()
	snapshot := make([]*TransferCorrelation, 0, len(m.correlations))
	for _, c := range m.correlations {
		snapshot = append(snapshot, c)
	}
	m.mu.RUnlock()

	for _, c := range snapshot {
		if err := cb(c); err != nil {
			return err
		}
	}

	return nil
}

// Len returns the number of stored correlations.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.correlations)
}
