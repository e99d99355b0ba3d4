package connectors

import (
	"context"
	"fmt"

	"github.com/xela07ax/netchange-gateway/internal/domain"
)

// ResourceRef адресует один ресурс Device API.
// TargetID — конкретный идентификатор ("N_123/ssid/0", "Q2XX-.../port/4").
type ResourceRef struct {
	Kind     domain.ResourceKind
	TargetID string
}

// Endpoint — путь для журнала вызовов (транспорт живет в коллабораторе,
// ядро видит только логическую форму)
func (r ResourceRef) Endpoint() string {
	return fmt.Sprintf("/%s/%s", r.Kind, r.TargetID)
}

// DeviceAPI — клиент удаленного device-management API.
// Реализация внешняя (HTTP живет в коллабораторе); ядро оборачивает
// клиента лимитером и классификатором ретраев, само в сеть не ходит.
type DeviceAPI interface {
	// Read возвращает текущее состояние ресурса
	Read(ctx context.Context, ref ResourceRef) (domain.State, error)
	// Write заменяет состояние ресурса и возвращает подтвержденное API
	Write(ctx context.Context, ref ResourceRef, payload domain.State) (domain.State, error)
}

// CapabilityChecker отвечает, доступна ли цель на запись
// (read-only-lock, monitor-only режим и т.п.). Ошибки проверки
// деградируют в "считать незаписываемой", а не в отказ пайплайна.
type CapabilityChecker interface {
	IsWritable(ctx context.Context, ref ResourceRef) (bool, string, error)
}

// DomainValidator — внешние доменные правила валидности.
// Ядро только сливает его предупреждения в превью.
type DomainValidator interface {
	Validate(ctx context.Context, kind domain.ResourceKind, proposed domain.State) []domain.Warning
}
