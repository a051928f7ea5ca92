package store

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryRepository keeps plans in process memory. It backs the local
// gateway and tests; nothing survives a restart.
type MemoryRepository struct {
	mu    sync.RWMutex
	plans map[string]Plan
	rows  map[string]map[string]Row
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		plans: make(map[string]Plan),
		rows:  make(map[string]map[string]Row),
	}
}

func (m *MemoryRepository) GetPlan(_ context.Context, key string) (Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.plans[key]
	if !ok {
		return Plan{}, ErrNotFound
	}
	return item, nil
}

func (m *MemoryRepository) UpsertPlan(_ context.Context, item Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.plans[item.Key]; ok {
		existing.Name = item.Name
		existing.UpdatedAt = item.UpdatedAt
		m.plans[item.Key] = existing
		return nil
	}
	m.plans[item.Key] = item
	return nil
}

func (m *MemoryRepository) ListPlans(context.Context) ([]Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]Plan, 0, len(m.plans))
	for _, item := range m.plans {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
	return items, nil
}

func (m *MemoryRepository) ListRows(_ context.Context, planKey string) ([]Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedRows(m.rows[planKey], nil), nil
}

func (m *MemoryRepository) GetRow(_ context.Context, planKey, eid string) (Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.rows[planKey][eid]
	if !ok {
		return Row{}, ErrNotFound
	}
	return copyRow(item), nil
}

func (m *MemoryRepository) UpsertRows(_ context.Context, planKey string, items []Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plans[planKey]; !ok {
		return ErrNotFound
	}
	family := m.rows[planKey]
	if family == nil {
		family = make(map[string]Row)
		m.rows[planKey] = family
	}
	for _, item := range items {
		item.PlanKey = planKey
		family[item.EID] = copyRow(item)
	}
	return nil
}

func (m *MemoryRepository) DeleteRows(_ context.Context, planKey string, eids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, eid := range eids {
		delete(m.rows[planKey], eid)
	}
	return nil
}

func (m *MemoryRepository) SearchRows(_ context.Context, planKey, query string, limit int) ([]Row, error) {
	if limit <= 0 {
		limit = 50
	}
	needle := strings.ToLower(strings.TrimSpace(query))
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := sortedRows(m.rows[planKey], func(r Row) bool {
		for _, field := range []string{r.Name, r.Tooltip, r.Link, r.VideoScript} {
			if strings.Contains(strings.ToLower(field), needle) {
				return true
			}
		}
		return false
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (m *MemoryRepository) Ping(context.Context) error {
	return nil
}

func sortedRows(family map[string]Row, keep func(Row) bool) []Row {
	items := make([]Row, 0, len(family))
	for _, item := range family {
		if keep != nil && !keep(item) {
			continue
		}
		items = append(items, copyRow(item))
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].PID != items[j].PID {
			return items[i].PID < items[j].PID
		}
		return items[i].Pos < items[j].Pos
	})
	return items
}

func copyRow(r Row) Row {
	if r.Date != nil {
		d := *r.Date
		r.Date = &d
	}
	return r
}
