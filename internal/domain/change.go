package domain

import (
	"time"

	"github.com/google/uuid"
)

// OperationKind определяет, что именно делаем с ресурсом
type OperationKind string

const (
	OpCreate   OperationKind = "create"
	OpUpdate   OperationKind = "update"
	OpDelete   OperationKind = "delete"
	OpRollback OperationKind = "rollback" // Откат по backup-снимку из журнала
)

// Mutating сообщает, меняет ли операция удаленное состояние.
// В текущем наборе все операции мутирующие (read-путь живет вне пайплайна),
// но проверка явная: подтверждение обязательно только для мутаций.
func (o OperationKind) Mutating() bool {
	switch o {
	case OpCreate, OpUpdate, OpDelete, OpRollback:
		return true
	}
	return false
}

// RequestOrigin — откуда пришел запрос
type RequestOrigin string

const (
	OriginInteractive  RequestOrigin = "interactive"  // Живой оператор (чат/CLI)
	OriginProgrammatic RequestOrigin = "programmatic" // Передача от внешнего классификатора интентов
)

// RiskLevel управляет силой подтверждения (см. confirm.Gate)
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskModerate RiskLevel = "moderate"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// rank нужен для эскалации: риск может только расти, никогда не понижается
func (r RiskLevel) rank() int {
	switch r {
	case RiskLow:
		return 0
	case RiskModerate:
		return 1
	case RiskHigh:
		return 2
	case RiskCritical:
		return 3
	}
	return 2 // Неизвестный уровень трактуем как high (Zero Trust)
}

// Escalate возвращает более строгий из двух уровней
func (r RiskLevel) Escalate(to RiskLevel) RiskLevel {
	if to.rank() > r.rank() {
		return to
	}
	return r
}

// AtLeast проверяет, что уровень не ниже заданного
func (r RiskLevel) AtLeast(min RiskLevel) bool {
	return r.rank() >= min.rank()
}

// State — непрозрачное состояние ресурса, как его отдает Device API.
// Для коллекционных ресурсов (firewall, ACL) содержит ключ стратегии
// (обычно "rules") со списком записей.
type State map[string]interface{}

// Clone делает глубокую копию на один уровень вложенности списков/мап.
// Preview Builder никогда не трогает исходный снимок.
func (s State) Clone() State {
	if s == nil {
		return nil
	}
	out := make(State, len(s))
	for k, v := range s {
		switch tv := v.(type) {
		case map[string]interface{}:
			inner := make(map[string]interface{}, len(tv))
			for ik, iv := range tv {
				inner[ik] = iv
			}
			out[k] = inner
		case []interface{}:
			list := make([]interface{}, len(tv))
			for i, iv := range tv {
				if m, ok := iv.(map[string]interface{}); ok {
					im := make(map[string]interface{}, len(m))
					for ik, ivv := range m {
						im[ik] = ivv
					}
					list[i] = im
					continue
				}
				list[i] = iv
			}
			out[k] = list
		default:
			out[k] = v
		}
	}
	return out
}

// TargetScope — именованная область ("все свитчи в сети N_123").
// Разворачивается в конкретные цели через resolve.Directory.
type TargetScope struct {
	NetworkID   string `json:"network_id"`
	Description string `json:"description"`          // Сырой текст области от классификатора
	DeviceType  string `json:"device_type,omitempty"` // switch / wireless / appliance
}

// ChangeRequest — намерение изменить один тип ресурса на одной или
// нескольких целях. После создания не мутирует (поля выставляет
// только пайплайн на стадии резолва).
type ChangeRequest struct {
	ID        string        `json:"id"`
	Origin    RequestOrigin `json:"origin"`
	Operation OperationKind `json:"operation"`
	Kind      ResourceKind  `json:"kind"`

	Scope     TargetScope `json:"scope"`
	TargetIDs []string    `json:"target_ids"` // Заполняет Target Resolver

	// Желаемые параметры — непрозрачный payload, специфичный для Kind
	Params State `json:"params"`

	Risk                 RiskLevel `json:"risk"`
	RequiresConfirmation bool      `json:"requires_confirmation"`

	// Для Operation == rollback: какой ChangeLogEntry откатываем
	RollbackOf string `json:"rollback_of,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// NewChangeRequest собирает запрос из скелета внешнего классификатора.
// Подтверждение обязательно для любой мутирующей операции — без исключений.
func NewChangeRequest(origin RequestOrigin, op OperationKind, kind ResourceKind, scope TargetScope, params State) *ChangeRequest {
	return &ChangeRequest{
		ID:                   uuid.New().String(),
		Origin:               origin,
		Operation:            op,
		Kind:                 kind,
		Scope:                scope,
		Params:               params,
		RequiresConfirmation: op.Mutating(),
		CreatedAt:            time.Now(),
	}
}
