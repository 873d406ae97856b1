package experiment

import (
	"context"
	"sort"
	"sync"

	"github.com/hrygo/campaignpilot/store"
)

// MemoryStore is an in-process Store for tests.
type MemoryStore struct {
	mu          sync.RWMutex
	experiments map[string]*store.Experiment
	winners     []*store.WinningConfig
	err         error
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{experiments: make(map[string]*store.Experiment)}
}

// SetError makes every subsequent call fail with err; nil restores service.
func (m *MemoryStore) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Winners returns the stored winning configurations in insertion order.
func (m *MemoryStore) Winners() []*store.WinningConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*store.WinningConfig(nil), m.winners...)
}

func (m *MemoryStore) UpsertExperiment(ctx context.Context, upsert *store.Experiment) (*store.Experiment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	c := *upsert
	c.Payload = append([]byte(nil), upsert.Payload...)
	if prev, ok := m.experiments[c.ID]; ok {
		c.CreatedTs = prev.CreatedTs
	}
	m.experiments[c.ID] = &c
	return upsert, nil
}

func (m *MemoryStore) ListExperiments(ctx context.Context, find *store.FindExperiment) ([]*store.Experiment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	list := make([]*store.Experiment, 0, len(m.experiments))
	for _, e := range m.experiments {
		if find != nil && find.ID != nil && e.ID != *find.ID {
			continue
		}
		if find != nil && find.CampaignID != nil && e.CampaignID != *find.CampaignID {
			continue
		}
		if find != nil && find.Status != nil && e.Status != *find.Status {
			continue
		}
		c := *e
		list = append(list, &c)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedTs.Equal(list[j].CreatedTs) {
			return list[i].CreatedTs.Before(list[j].CreatedTs)
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}

func (m *MemoryStore) UpsertWinningConfig(ctx context.Context, upsert *store.WinningConfig) (*store.WinningConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	c := *upsert
	for i, w := range m.winners {
		if w.ExperimentID == c.ExperimentID {
			c.ID, c.CreatedTs = w.ID, w.CreatedTs
			m.winners[i] = &c
			return &c, nil
		}
	}
	c.ID = int64(len(m.winners) + 1)
	m.winners = append(m.winners, &c)
	return &c, nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*store.Store)(nil)
)
