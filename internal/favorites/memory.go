package favorites

import (
	"context"
	"sync"
)

// MemoryService is an in-process favorites service. FailWith, when set,
// is returned by every call; tests use it to simulate an unreachable service.
type MemoryService struct {
	mu       sync.Mutex
	favs     Set
	FailWith error
	Calls    int
}

func NewMemoryService() *MemoryService {
	return &MemoryService{favs: Set{}}
}

func (m *MemoryService) SetFavorite(_ context.Context, actionID, categoryID string, isFavorite bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.FailWith != nil {
		return m.FailWith
	}
	if isFavorite {
		m.favs.add(actionID, categoryID)
	} else {
		m.favs.remove(actionID, categoryID)
	}
	return nil
}

func (m *MemoryService) ListFavorites(context.Context) (map[string][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	return m.favs.Map(), nil
}

// SetFailure changes the simulated failure under the lock.
func (m *MemoryService) SetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailWith = err
}
