package domain

import (
	"errors"
	"fmt"
)

// Статусы конечного автомата подтверждения
var (
	ErrConfirmationRejected = errors.New("confirmation rejected by operator")
	ErrConfirmationExpired  = errors.New("confirmation window expired")
	ErrStalePreview         = errors.New("approval references a stale preview generation")
	ErrAlreadyDecided       = errors.New("change request already decided")
	ErrImpactAckRequired    = errors.New("impact summary must be acknowledged for this risk level")
	ErrPipelineBusy         = errors.New("session already has an active pipeline")
)

// TargetResolutionError — область не разворачивается в пригодные цели:
// неизвестный scope, ноль совпадений или все цели заблокированы
type TargetResolutionError struct {
	Scope  TargetScope
	Reason string
}

func (e *TargetResolutionError) Error() string {
	return fmt.Sprintf("target resolution failed for scope %q: %s", e.Scope.Description, e.Reason)
}

// PreviewComputationError — дифф нельзя посчитать безопасно
// (например, позиция вставки вне диапазона коллекции)
type PreviewComputationError struct {
	RequestID string
	Reason    string
}

func (e *PreviewComputationError) Error() string {
	return fmt.Sprintf("preview computation failed for request %s: %s", e.RequestID, e.Reason)
}

// RollbackUnavailableError — нет backup-состояния, либо вид ресурса
// не восстанавливается повтором снимка
type RollbackUnavailableError struct {
	ChangeID string
	Reason   string
}

func (e *RollbackUnavailableError) Error() string {
	return fmt.Sprintf("rollback unavailable for change %s: %s", e.ChangeID, e.Reason)
}

// PartialMutationError — многошаговая мутация отвергнута посреди
// последовательности: ресурс в промежуточном состоянии, цель нужно
// немедленно вернуть к backup
type PartialMutationError struct {
	TargetID  string
	SubOp     string
	Completed int // Сколько под-операций уже применилось
	Cause     error
}

func (e *PartialMutationError) Error() string {
	return fmt.Sprintf("partial mutation on target %s at sub-op %q (%d applied): %v",
		e.TargetID, e.SubOp, e.Completed, e.Cause)
}

func (e *PartialMutationError) Unwrap() error { return e.Cause }
