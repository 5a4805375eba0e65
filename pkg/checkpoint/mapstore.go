package checkpoint

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/dagrunner/pkg/dagmodel"
)

// MapStore is an in-memory Store for ephemeral runs (tests, one-shot
// invocations where durability across process restarts is not required).
type MapStore struct {
	mu          sync.RWMutex
	checkpoints map[string]Checkpoint
	byDAG       map[string][]string // dagID -> checkpoint ids in save order
}

// NewMapStore creates an empty in-memory Store.
func NewMapStore() *MapStore {
	return &MapStore{
		checkpoints: make(map[string]Checkpoint),
		byDAG:       make(map[string][]string),
	}
}

func (m *MapStore) Save(ctx context.Context, state dagmodel.WorkflowState) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.NewString()
	m.checkpoints[id] = Checkpoint{
		ID:        id,
		DAGID:     state.DAGID,
		State:     *state.Clone(),
		CreatedAt: time.Now(),
	}
	m.byDAG[state.DAGID] = append(m.byDAG[state.DAGID], id)
	return id, nil
}

func (m *MapStore) Load(ctx context.Context, id string) (Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cp, ok := m.checkpoints[id]
	if !ok {
		return Checkpoint{}, ErrNotFound
	}
	return cp, nil
}

func (m *MapStore) Latest(ctx context.Context, dagID string) (Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.byDAG[dagID]
	if len(ids) == 0 {
		return Checkpoint{}, ErrNotFound
	}
	return m.checkpoints[ids[len(ids)-1]], nil
}

var _ Store = (*MapStore)(nil)
