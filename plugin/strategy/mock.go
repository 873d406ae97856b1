package strategy

import (
	"context"
	"sort"
	"sync"

	"github.com/hrygo/campaignpilot/store"
)

// MemoryRepository is an in-process Repository and WinnerSource for tests.
type MemoryRepository struct {
	mu         sync.RWMutex
	strategies map[string]*store.CampaignStrategy
	winners    []*store.WinningConfig
	err        error
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		strategies: make(map[string]*store.CampaignStrategy),
	}
}

// SetError makes every subsequent call fail with err; nil restores service.
func (m *MemoryRepository) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// AddWinner stores a winning configuration.
func (m *MemoryRepository) AddWinner(w *store.WinningConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.winners = append(m.winners, w)
}

func (m *MemoryRepository) UpsertCampaignStrategy(ctx context.Context, upsert *store.CampaignStrategy) (*store.CampaignStrategy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	c := *upsert
	c.Payload = append([]byte(nil), upsert.Payload...)
	m.strategies[c.ID] = &c
	return upsert, nil
}

func (m *MemoryRepository) ListCampaignStrategies(ctx context.Context, find *store.FindCampaignStrategy) ([]*store.CampaignStrategy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}

	list := make([]*store.CampaignStrategy, 0, len(m.strategies))
	for _, s := range m.strategies {
		if find != nil && find.ID != nil && s.ID != *find.ID {
			continue
		}
		if find != nil && find.Status != nil && s.Status != *find.Status {
			continue
		}
		c := *s
		list = append(list, &c)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedTs.Equal(list[j].CreatedTs) {
			return list[i].CreatedTs.After(list[j].CreatedTs)
		}
		return list[i].ID > list[j].ID
	})
	if find != nil && find.Limit > 0 && find.Limit < len(list) {
		list = list[:find.Limit]
	}
	return list, nil
}

func (m *MemoryRepository) GetCampaignStrategyPayload(ctx context.Context, id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	s, ok := m.strategies[id]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), s.Payload...), nil
}

func (m *MemoryRepository) ListWinningConfigs(ctx context.Context, find *store.FindWinningConfig) ([]*store.WinningConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}

	list := make([]*store.WinningConfig, 0)
	for i := len(m.winners) - 1; i >= 0; i-- {
		w := m.winners[i]
		if find != nil && find.AgentID != nil && w.AgentID != *find.AgentID {
			continue
		}
		if find != nil && find.CampaignID != nil && w.CampaignID != *find.CampaignID {
			continue
		}
		list = append(list, w)
		if find != nil && find.Limit > 0 && len(list) >= find.Limit {
			break
		}
	}
	return list, nil
}

var (
	_ Repository   = (*MemoryRepository)(nil)
	_ WinnerSource = (*MemoryRepository)(nil)
	_ Repository   = (*store.Store)(nil)
	_ WinnerSource = (*store.Store)(nil)
)
