package connectors

import (
	"fmt"
	"time"
)

// ThrottleError возвращает коннектор, когда удаленный API прислал 429
// и Retry-After. Ретрай-цикл исполнителя уважает этот интервал вместо
// стандартного бэкоффа.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }

// APIError — транспортный исход с HTTP-кодом от коллаборатора.
// Ядро классифицирует его в retry / abort-target / abort-and-rollback.
type APIError struct {
	StatusCode int
	Endpoint   string
	Method     string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("device api: %s %s -> %d: %s", e.Method, e.Endpoint, e.StatusCode, e.Body)
}

// Retryable — грубая прикидка по коду: 5xx и 429 потенциально временные
func (e *APIError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}
