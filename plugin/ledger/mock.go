package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	engineerrors "github.com/hrygo/campaignpilot/internal/errors"
	"github.com/hrygo/campaignpilot/store"
)

// MemoryRecordStore is an in-process RecordStore for tests and embedding.
// It honours the same filter, ordering and pagination rules as the SQL drivers.
type MemoryRecordStore struct {
	mu      sync.RWMutex
	records []*store.ExecutionRecord
	nextID  int64
	err     error
	calls   int
}

// NewMemoryRecordStore creates an empty in-memory record store.
func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{
		records: make([]*store.ExecutionRecord, 0),
		nextID:  1,
	}
}

// SetError makes every subsequent call fail with err; nil restores service.
func (m *MemoryRecordStore) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many store calls were made.
func (m *MemoryRecordStore) Calls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}

// Len returns the number of stored records.
func (m *MemoryRecordStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *MemoryRecordStore) CreateExecutionRecord(ctx context.Context, create *store.ExecutionRecord) (*store.ExecutionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}

	record := *create
	record.ID = m.nextID
	m.nextID++
	m.records = append(m.records, &record)

	out := record
	return &out, nil
}

func (m *MemoryRecordStore) ListExecutionRecords(ctx context.Context, find *store.FindExecutionRecord) ([]*store.ExecutionRecord, error) {
	m.mu.Lock()
	m.calls++
	err := m.err
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if find == nil {
		find = &store.FindExecutionRecord{}
	}

	m.mu.RLock()
	list := make([]*store.ExecutionRecord, 0)
	for _, r := range m.records {
		if matches(r, find) {
			c := *r
			list = append(list, &c)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if find.SortDesc {
			a, b = b, a
		}
		ka, kb := sortKey(a, find.SortBy), sortKey(b, find.SortBy)
		if ka != kb {
			return ka < kb
		}
		return a.ID < b.ID
	})

	if find.Offset > 0 {
		if find.Offset >= len(list) {
			return []*store.ExecutionRecord{}, nil
		}
		list = list[find.Offset:]
	}
	if find.Limit > 0 && find.Limit < len(list) {
		list = list[:find.Limit]
	}
	return list, nil
}

func matches(r *store.ExecutionRecord, find *store.FindExecutionRecord) bool {
	if find.ID != nil && r.ID != *find.ID {
		return false
	}
	if find.AgentID != nil && r.AgentID != *find.AgentID {
		return false
	}
	if find.SessionID != nil && r.SessionID != *find.SessionID {
		return false
	}
	if find.UserID != nil && (r.UserID == nil || *r.UserID != *find.UserID) {
		return false
	}
	if find.StartTime != nil && r.CreatedTs.Before(*find.StartTime) {
		return false
	}
	if find.EndTime != nil && !r.CreatedTs.Before(*find.EndTime) {
		return false
	}
	if find.SuccessOnly && !r.Success {
		return false
	}
	return true
}

func sortKey(r *store.ExecutionRecord, field store.ExecutionSortField) float64 {
	switch field {
	case store.SortByCost:
		return r.Cost
	case store.SortByExecutionTime:
		return float64(r.ExecutionTimeMs)
	case store.SortByScore:
		if r.QualityScore == nil {
			return -1
		}
		return *r.QualityScore
	default:
		return float64(r.CreatedTs.UnixMilli())
	}
}

func (m *MemoryRecordStore) UpdateExecutionRecord(ctx context.Context, update *store.UpdateExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return m.err
	}

	for _, r := range m.records {
		if r.ID != update.ID {
			continue
		}
		if update.QualityScore != nil {
			score := *update.QualityScore
			r.QualityScore = &score
		}
		if update.Metadata != nil {
			r.Metadata = append([]byte(nil), update.Metadata...)
		}
		return nil
	}
	return engineerrors.NotFound("execution record", fmt.Sprint(update.ID))
}

func (m *MemoryRecordStore) DeleteExecutionRecords(ctx context.Context, delete *store.DeleteExecutionRecords) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return 0, m.err
	}
	if delete == nil || delete.BeforeTime == nil {
		return 0, fmt.Errorf("before_time is required for deletion")
	}

	kept := m.records[:0]
	var removed int64
	for _, r := range m.records {
		if r.CreatedTs.Before(*delete.BeforeTime) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	m.records = kept
	return removed, nil
}

// Ensure MemoryRecordStore implements RecordStore
var _ RecordStore = (*MemoryRecordStore)(nil)
