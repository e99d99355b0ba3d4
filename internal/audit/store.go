package audit

import (
	"context"
	"fmt"
	"sync"

	"github.com/xela07ax/netchange-gateway/internal/domain"
)

// ListFilter — критерии выборки журнала для консоли оператора
type ListFilter struct {
	Operator string
	Kind     domain.ResourceKind
	Status   domain.ResultStatus
	Limit    int
}

// Store определяет, куда физически сохраняются записи журнала.
// Журнал append-only: записи не редактируются после записи, кроме
// полей отката (их выставляет Rollback Engine через SetRollbackRef).
type Store interface {
	// WriteBatch сохраняет пачку записей за один раз
	WriteBatch(ctx context.Context, entries []domain.ChangeLogEntry) error
	GetByChangeID(ctx context.Context, changeID string) (*domain.ChangeLogEntry, error)
	List(ctx context.Context, filter ListFilter) ([]domain.ChangeLogEntry, error)
	// SetRollbackRef помечает запись откаченной и связывает ее с
	// записью отката. Ничего кроме rollback-полей не трогает.
	SetRollbackRef(ctx context.Context, changeID, rollbackChangeID string) error
}

// MemStore — журнал в памяти для разработки и тестов.
// В продакшене его место занимает Postgres-репозиторий.
type MemStore struct {
	mu      sync.RWMutex
	entries []domain.ChangeLogEntry
	byID    map[string]int
}

func NewMemStore() *MemStore {
	return &MemStore{byID: make(map[string]int)}
}

func (s *MemStore) WriteBatch(_ context.Context, entries []domain.ChangeLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if _, exists := s.byID[e.ChangeID]; exists {
			return fmt.Errorf("change id %s already recorded", e.ChangeID)
		}
		s.byID[e.ChangeID] = len(s.entries)
		s.entries = append(s.entries, e)
	}
	return nil
}

func (s *MemStore) GetByChangeID(_ context.Context, changeID string) (*domain.ChangeLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byID[changeID]
	if !ok {
		return nil, fmt.Errorf("change %s not found", changeID)
	}
	e := s.entries[idx]
	return &e, nil
}

func (s *MemStore) List(_ context.Context, filter ListFilter) ([]domain.ChangeLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.ChangeLogEntry
	// Свежие записи первыми
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if filter.Operator != "" && e.Operator != filter.Operator {
			continue
		}
		if filter.Kind != "" && e.Kind != filter.Kind {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemStore) SetRollbackRef(_ context.Context, changeID, rollbackChangeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byID[changeID]
	if !ok {
		return fmt.Errorf("change %s not found", changeID)
	}
	s.entries[idx].Status = domain.StatusRolledBack
	s.entries[idx].Rollback.Performed = true
	s.entries[idx].Rollback.RollbackChangeID = rollbackChangeID
	return nil
}
