package risk

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu          sync.RWMutex
	assessments map[string][]*StoredAssessment // orderID → assessments, oldest first
}

// NewMemoryStore creates an in-memory assessment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		assessments: make(map[string][]*StoredAssessment),
	}
}

func (s *MemoryStore) Record(ctx context.Context, stored *StoredAssessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := copyStored(stored)
	orderID := c.Assessment.OrderID
	s.assessments[orderID] = append(s.assessments[orderID], c)
	return nil
}

func (s *MemoryStore) Latest(ctx context.Context, orderID string) (*StoredAssessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.assessments[orderID]
	if len(all) == 0 {
		return nil, ErrNotFound
	}
	return copyStored(all[len(all)-1]), nil
}

func (s *MemoryStore) ListByOrder(ctx context.Context, orderID string, limit int) ([]*StoredAssessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.assessments[orderID]
	if len(all) == 0 {
		return nil, nil
	}

	// Return most recent first, up to limit
	start := len(all) - limit
	if start < 0 || limit <= 0 {
		start = 0
	}

	result := make([]*StoredAssessment, 0, len(all)-start)
	for i := len(all) - 1; i >= start; i-- {
		result = append(result, copyStored(all[i]))
	}
	return result, nil
}

func (s *MemoryStore) LatestByOrders(ctx context.Context, orderIDs []string) (map[string]*StoredAssessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*StoredAssessment, len(orderIDs))
	for _, id := range orderIDs {
		if all := s.assessments[id]; len(all) > 0 {
			out[id] = copyStored(all[len(all)-1])
		}
	}
	return out, nil
}

func (s *MemoryStore) DeleteOrder(ctx context.Context, orderID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.assessments[orderID])
	delete(s.assessments, orderID)
	return n, nil
}

// copyStored deep-copies the slices so callers cannot mutate stored state.
func copyStored(in *StoredAssessment) *StoredAssessment {
	out := *in
	a := *in.Assessment
	a.RiskFlags = append([]RuleResult(nil), a.RiskFlags...)
	a.VerificationSuggestions = append([]string(nil), a.VerificationSuggestions...)
	out.Assessment = &a
	return &out
}
