package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/riskguard/riskguard/internal/order"
	"github.com/riskguard/riskguard/internal/pagination"
	"github.com/riskguard/riskguard/internal/validation"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu       sync.RWMutex
	orders   []*OrderRecord
	profiles map[string]Profile // Profile.Key() → profile
	order    []string           // profile keys in creation order
	now      func() time.Time
}

// NewMemoryStore creates an in-memory history store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles: make(map[string]Profile),
		now:      time.Now,
	}
}

// Lookup implements Provider.
func (m *MemoryStore) Lookup(_ context.Context, oc order.Context) (order.HistoricalContext, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	profiles := make([]Profile, 0, len(m.order))
	for _, k := range m.order {
		profiles = append(profiles, m.profiles[k])
	}
	return Build(m.now(), oc, m.orders, profiles), nil
}

// Record implements Recorder.
func (m *MemoryStore) Record(_ context.Context, rec *OrderRecord) error {
	if rec == nil || rec.Email == "" {
		return ErrInvalidRecord
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *rec
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = m.now()
	}
	m.orders = append(m.orders, &cp)

	p := ProfileOf(&cp)
	if _, ok := m.profiles[p.Key()]; !ok {
		m.profiles[p.Key()] = p
		m.order = append(m.order, p.Key())
	}
	return nil
}

// Complete implements Recorder.
func (m *MemoryStore) Complete(_ context.Context, id string, riskScore int, action string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, o := range m.orders {
		if o.ID == id {
			o.RiskScore = riskScore
			o.RecommendedAction = action
			return nil
		}
	}
	return ErrNotFound
}

// Discard implements Recorder.
func (m *MemoryStore) Discard(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.removeWhere(func(o *OrderRecord) bool { return o.ID == id }) == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteOrder implements Store.
func (m *MemoryStore) DeleteOrder(_ context.Context, orderID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.removeWhere(func(o *OrderRecord) bool { return o.OrderID == orderID }), nil
}

// removeWhere drops matching records and any profile no record refers to.
// The caller holds m.mu.
func (m *MemoryStore) removeWhere(match func(*OrderRecord) bool) int {
	kept := m.orders[:0]
	removed := 0
	for _, o := range m.orders {
		if match(o) {
			removed++
			continue
		}
		kept = append(kept, o)
	}
	clear(m.orders[len(kept):])
	m.orders = kept
	if removed == 0 {
		return 0
	}

	used := make(map[string]bool, len(m.orders))
	for _, o := range m.orders {
		used[ProfileOf(o).Key()] = true
	}
	keys := m.order[:0]
	for _, k := range m.order {
		if used[k] {
			keys = append(keys, k)
			continue
		}
		delete(m.profiles, k)
	}
	m.order = keys
	return removed
}

// ListOrders implements Store.
func (m *MemoryStore) ListOrders(_ context.Context, limit int, cursor string) (*OrderPage, error) {
	after, err := pagination.Decode(cursor)
	if err != nil {
		return nil, err
	}
	limit = pagination.Limit(limit)

	m.mu.RLock()
	all := make([]*OrderRecord, 0, len(m.orders))
	for _, o := range m.orders {
		cp := *o
		all = append(all, &cp)
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return newerFirst(all[i], all[j]) })
	out := &OrderPage{}
	out.Orders, out.NextCursor, out.HasMore = pagination.ComputePage(pageAfter(all, after, limit), limit, recordKey)
	return out, nil
}

// pageAfter returns up to limit+1 records of the sorted slice that follow
// the cursor.
func pageAfter(sorted []*OrderRecord, after *pagination.Cursor, limit int) []*OrderRecord {
	page := make([]*OrderRecord, 0, limit+1)
	for _, o := range sorted {
		if after != nil && !olderThanCursor(o, after) {
			continue
		}
		page = append(page, o)
		if len(page) > limit {
			break
		}
	}
	return page
}

// CustomerOrders implements Store.
func (m *MemoryStore) CustomerOrders(_ context.Context, email string, limit int, cursor string) (*CustomerHistory, error) {
	after, err := pagination.Decode(cursor)
	if err != nil {
		return nil, err
	}
	limit = pagination.Limit(limit)
	email = validation.SanitizeEmail(email)

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := &CustomerHistory{Email: email, Orders: []*OrderRecord{}}
	var all []*OrderRecord
	for _, o := range m.orders {
		if o.Email != email {
			continue
		}
		out.TotalOrders++
		out.TotalSpent += o.TotalAmount
		cp := *o
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return newerFirst(all[i], all[j]) })

	out.Orders, out.NextCursor, out.HasMore = pagination.ComputePage(pageAfter(all, after, limit), limit, recordKey)
	return out, nil
}

func newerFirst(a, b *OrderRecord) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func olderThanCursor(o *OrderRecord, c *pagination.Cursor) bool {
	if !o.CreatedAt.Equal(c.CreatedAt) {
		return o.CreatedAt.Before(c.CreatedAt)
	}
	return o.ID < c.ID
}

func recordKey(o *OrderRecord) (time.Time, string) {
	return o.CreatedAt, o.ID
}
