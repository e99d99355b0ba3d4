package executor

import (
	"context"
	"errors"

	"github.com/xela07ax/netchange-gateway/internal/connectors"
	"github.com/xela07ax/netchange-gateway/internal/domain"
)

// Action — вердикт классификатора по ошибке мутирующего вызова
type Action int

const (
	// Retry: ошибка временная, вызов можно повторить
	Retry Action = iota
	// AbortTarget: цель провалена, переходим к следующей
	AbortTarget
	// AbortAndRollback: цель в промежуточном состоянии, немедленно
	// вернуть ее к backup и только потом идти дальше
	AbortAndRollback
)

func (a Action) String() string {
	switch a {
	case Retry:
		return "retry"
	case AbortTarget:
		return "abort_target"
	case AbortAndRollback:
		return "abort_and_rollback"
	}
	return "unknown"
}

// Classify — чистая функция: (ошибка, идемпотентность вида) -> действие.
// Ключевое различие: для неидемпотентного вида повторяется ТОЛЬКО 429,
// потому что throttle доказуемо означает "мутация не применилась".
// Таймаут или 500 на неидемпотентном вызове повторять нельзя — мутация
// могла пройти, и повтор продублирует ее.
func Classify(err error, idempotent bool) Action {
	if err == nil {
		return AbortTarget
	}

	// Дедлайн или отмена. Отмену всего прогона обрывает retry.Context
	// до следующей попытки; сюда доходит таймаут одного вызова, и
	// повторить его можно только на идемпотентном виде
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if idempotent {
			return Retry
		}
		return AbortTarget
	}

	var pErr *domain.PartialMutationError
	if errors.As(err, &pErr) {
		return AbortAndRollback
	}

	var tErr *connectors.ThrottleError
	if errors.As(err, &tErr) {
		// 429 означает, что запрос отвергнут до обработки
		return Retry
	}

	var apiErr *connectors.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return Retry
		case apiErr.StatusCode >= 500:
			if idempotent {
				return Retry
			}
			return AbortTarget
		default:
			// 4xx: невалидный payload, нет прав, ресурс исчез.
			// Повтор того же запроса даст тот же ответ.
			return AbortTarget
		}
	}

	// Неизвестная транспортная ошибка (обрыв соединения и т.п.):
	// исход вызова неизвестен, действуем по идемпотентности
	if idempotent {
		return Retry
	}
	return AbortTarget
}
