package domain

import "time"

// ResultStatus — терминальный исход попытки изменения
type ResultStatus string

const (
	StatusSuccess        ResultStatus = "success"
	StatusPartialSuccess ResultStatus = "partial_success" // Часть целей прошла, часть упала — никогда не схлопывается в success
	StatusFailed         ResultStatus = "failed"
	StatusRejected       ResultStatus = "rejected" // Оператор отказал, мутаций не было
	StatusExpired        ResultStatus = "expired"  // Подтверждение не пришло вовремя, мутаций не было
	StatusRolledBack     ResultStatus = "rolled_back"
)

// CallOutcome — исход одного вызова Device API (включая финальную
// попытку после ретраев). Нужен для честного пост-мортема.
type CallOutcome struct {
	TargetID   string `json:"target_id"`
	Endpoint   string `json:"endpoint"`
	Method     string `json:"method"`
	StatusCode int    `json:"status_code"`
	Attempts   int    `json:"attempts"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
}

// VerifiedState — результат контрольного чтения после применения
type VerifiedState struct {
	State           State       `json:"state"`
	MatchesExpected bool        `json:"matches_expected"`
	Mismatches      []FieldDiff `json:"mismatches,omitempty"`
}

// TargetRecord — все, что случилось с одной целью.
// Backup пишется СТРОГО до мутирующего вызова по этой цели.
type TargetRecord struct {
	TargetID string         `json:"target_id"`
	Backup   State          `json:"backup_state"`
	Applied  State          `json:"applied_state"` // Что реально отправили
	Verified *VerifiedState `json:"verified_state,omitempty"`
	Success  bool           `json:"success"`
	Error    string         `json:"error,omitempty"`
}

// RollbackInfo — метаданные отката для записи журнала
type RollbackInfo struct {
	Available        bool   `json:"available"`
	Performed        bool   `json:"performed"`
	RollbackChangeID string `json:"rollback_change_id,omitempty"` // Новый change id, откатившый эту запись
	FailureReason    string `json:"failure_reason,omitempty"`
}

// ApprovalEvent — одно зафиксированное решение оператора.
// Critical-риск требует двух последовательных событий.
type ApprovalEvent struct {
	Reviewer    string    `json:"reviewer"`
	Approved    bool      `json:"approved"`
	PreviewHash string    `json:"preview_hash"`
	Comment     string    `json:"comment,omitempty"`
	At          time.Time `json:"at"`
}

// ChangeLogEntry — единственная персистируемая сущность ядра.
// Append-only: после записи verified_state не мутирует, исключая
// метаданные отката (rollback_change_id выставляет Rollback Engine).
type ChangeLogEntry struct {
	ChangeID  string        `json:"change_id"` // Глобально уникален, не переиспользуется
	RequestID string        `json:"request_id"`
	Timestamp time.Time     `json:"timestamp"`
	Operator  string        `json:"operator"`
	Origin    RequestOrigin `json:"origin"`

	Operation OperationKind `json:"operation"`
	Kind      ResourceKind  `json:"kind"`
	Summary   string        `json:"summary"`
	Risk      RiskLevel     `json:"risk"`

	Targets   []TargetRecord  `json:"targets"`
	Calls     []CallOutcome   `json:"calls"`
	Approvals []ApprovalEvent `json:"approvals"`
	Warnings  []Warning       `json:"warnings"`

	Status   ResultStatus `json:"status"`
	Rollback RollbackInfo `json:"rollback"`

	// Откат ссылается на исходную запись; исходный change id никогда
	// не переиспользуется — откат получает собственный.
	RollbackOf string `json:"rollback_of,omitempty"`

	DurationMs int64 `json:"duration_ms"`
}

// FinalizeStatus агрегирует статус из пер-целевых исходов.
// Смешанный результат обязан остаться partial_success.
func (e *ChangeLogEntry) FinalizeStatus() {
	if len(e.Targets) == 0 {
		e.Status = StatusFailed
		return
	}
	ok, bad := 0, 0
	for _, t := range e.Targets {
		if t.Success {
			ok++
		} else {
			bad++
		}
	}
	switch {
	case bad == 0:
		e.Status = StatusSuccess
	case ok == 0:
		e.Status = StatusFailed
	default:
		e.Status = StatusPartialSuccess
	}
}

// RefreshRollbackAvailability поддерживает инвариант:
// available == true тогда и только тогда, когда у КАЖДОЙ затронутой
// цели есть непустой backup. Записи без backup откату не подлежат.
func (e *ChangeLogEntry) RefreshRollbackAvailability() {
	if len(e.Targets) == 0 {
		e.Rollback.Available = false
		return
	}
	strategy, ok := StrategyFor(e.Kind)
	if !ok || !strategy.Restorable(e.Operation) {
		e.Rollback.Available = false
		return
	}
	for _, t := range e.Targets {
		if len(t.Backup) == 0 {
			e.Rollback.Available = false
			return
		}
	}
	// Откатывать нечего, если ни одна мутация не прошла
	e.Rollback.Available = e.Status == StatusSuccess ||
		e.Status == StatusPartialSuccess
}
