package service

import (
	"context"
	"fmt"

	"github.com/xela07ax/netchange-gateway/internal/audit"
	"github.com/xela07ax/netchange-gateway/internal/domain"
)

// AuditService читает журнал изменений для консоли.
// Логика фильтрации инкапсулирована в хранилище.
type AuditService struct {
	store audit.Store
}

func NewAuditService(store audit.Store) *AuditService {
	return &AuditService{store: store}
}

func (s *AuditService) FetchEntries(ctx context.Context, filter audit.ListFilter) ([]domain.ChangeLogEntry, error) {
	entries, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("audit_service: failed to fetch change log: %w", err)
	}
	return entries, nil
}

func (s *AuditService) GetEntry(ctx context.Context, changeID string) (*domain.ChangeLogEntry, error) {
	entry, err := s.store.GetByChangeID(ctx, changeID)
	if err != nil {
		return nil, fmt.Errorf("audit_service: %w", err)
	}
	return entry, nil
}
