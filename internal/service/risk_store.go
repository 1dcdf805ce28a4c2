package service

import (
	"context"
	"sync"

	"github.com/goerajat/online-betting-sub000/internal/model"
)

const defaultViolationCapacity = 500

// RiskViolationStore 内存中的风控拒单记录，环形缓冲
type RiskViolationStore struct {
	mu        sync.RWMutex
	capacity  int
	records   []model.RiskViolation
	nextIndex int
	counts    map[model.CheckKind]int64
}

func NewRiskViolationStore(capacity int) *RiskViolationStore {
	if capacity <= 0 {
		capacity = defaultViolationCapacity
	}
	return &RiskViolationStore{
		capacity: capacity,
		records:  make([]model.RiskViolation, 0, capacity),
		counts:   make(map[model.CheckKind]int64),
	}
}

func (s *RiskViolationStore) Record(ctx context.Context, v model.RiskViolation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[v.Check]++
	if len(s.records) < s.capacity {
		s.records = append(s.records, v)
		return nil
	}
	s.records[s.nextIndex] = v
	s.nextIndex = (s.nextIndex + 1) % s.capacity
	return nil
}

func (s *RiskViolationStore) Recent(ctx context.Context, limit int) ([]model.RiskViolation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := len(s.records)
	if limit <= 0 || limit > total {
		limit = total
	}
	out := make([]model.RiskViolation, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (s.nextIndex + total - 1 - i) % total
		out = append(out, s.records[idx])
	}
	return out, nil
}

func (s *RiskViolationStore) Counts(ctx context.Context) (map[model.CheckKind]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[model.CheckKind]int64, len(s.counts))
	for k, v := range s.counts {
		out[k] = v
	}
	return out, nil
}
