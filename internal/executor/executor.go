package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"github.com/xela07ax/netchange-gateway/internal/connectors"
	"github.com/xela07ax/netchange-gateway/internal/domain"
	"go.uber.org/zap"
)

// Executor последовательно применяет одобренное изменение к целям.
// Параллелизма по целям нет умышленно: бюджет удаленного API общий,
// а разбор частичного отказа при последовательном проходе однозначен.
type Executor struct {
	api connectors.DeviceAPI
	cb  *gobreaker.CircuitBreaker

	attempts    uint
	callTimeout time.Duration
	logger      *zap.Logger
}

type Options struct {
	Attempts            uint          // Попыток на один вызов, включая первую
	CallTimeout         time.Duration // Таймаут одного вызова Device API
	ConsecutiveFailures uint32        // Порог открытия предохранителя
	BreakerCooldown     time.Duration
}

func New(api connectors.DeviceAPI, opts Options, logger *zap.Logger) *Executor {
	if opts.Attempts == 0 {
		opts.Attempts = 5
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 15 * time.Second
	}
	if opts.ConsecutiveFailures == 0 {
		opts.ConsecutiveFailures = 3
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = 30 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "device-api",
		Timeout: opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.ConsecutiveFailures
		},
	})

	return &Executor{
		api:         api,
		cb:          cb,
		attempts:    opts.Attempts,
		callTimeout: opts.CallTimeout,
		logger:      logger.Named("executor"),
	}
}

// Apply применяет превью к каждой цели и заполняет запись журнала.
// Инвариант на цель: backup — свежее чтение состояния, зафиксированное
// в записи ДО первого мутирующего вызова. Отказ одной цели не
// останавливает проход, кроме открытия предохранителя и отмены
// контекста.
func (e *Executor) Apply(ctx context.Context, req *domain.ChangeRequest, preview *domain.ChangePreview, entry *domain.ChangeLogEntry) {
	strategy, ok := domain.StrategyFor(req.Kind)
	if !ok {
		entry.Status = domain.StatusFailed
		return
	}

	skipRemaining := ""

	for _, tp := range preview.Targets {
		rec := domain.TargetRecord{TargetID: tp.TargetID}

		// Отмена между целями: уже примененные остаются примененными,
		// оставшиеся не трогаются
		if err := ctx.Err(); err != nil {
			rec.Error = "skipped: run cancelled"
			entry.Targets = append(entry.Targets, rec)
			continue
		}

		if skipRemaining != "" {
			rec.Error = skipRemaining
			entry.Targets = append(entry.Targets, rec)
			continue
		}

		_, cbErr := e.cb.Execute(func() (interface{}, error) {
			return nil, e.applyTarget(ctx, req, strategy, tp, &rec, entry)
		})

		if errors.Is(cbErr, gobreaker.ErrOpenState) {
			// Предохранитель открылся: удаленный API деградировал,
			// долбить его оставшимися целями бессмысленно
			skipRemaining = "skipped: consecutive failure threshold reached"
			rec.Error = skipRemaining
			e.logger.Warn("circuit breaker open, skipping remaining targets",
				zap.String("change_id", entry.ChangeID),
				zap.String("target_id", tp.TargetID),
			)
		} else if cbErr != nil && rec.Error == "" {
			rec.Error = cbErr.Error()
		}

		entry.Targets = append(entry.Targets, rec)
	}

	entry.FinalizeStatus()
	entry.RefreshRollbackAvailability()
}

// applyTarget проводит одну цель: backup, затем под-операции по порядку
// стратегии. Ошибка посреди многошаговой последовательности немедленно
// возвращает цель к backup.
func (e *Executor) applyTarget(ctx context.Context, req *domain.ChangeRequest, strategy domain.KindStrategy, tp domain.TargetPreview, rec *domain.TargetRecord, entry *domain.ChangeLogEntry) error {
	ref := connectors.ResourceRef{Kind: req.Kind, TargetID: tp.TargetID}

	// Backup — свежее чтение прямо перед мутацией, а не снимок из
	// превью: пока запрос ждал решения оператора, состояние цели могло
	// измениться снаружи, и откат обязан возвращать именно его
	backup, err := e.readBackup(ctx, req, ref, entry)
	if err != nil {
		rec.Error = err.Error()
		return err
	}
	rec.Backup = backup

	payloads := subOpPayloads(strategy, tp.Proposed)

	completed := 0
	for _, p := range payloads {
		applied, outcome, err := e.writeWithRetry(ctx, ref, p.payload, strategy.Idempotent)
		entry.Calls = append(entry.Calls, outcome)

		if err != nil {
			if completed > 0 {
				err = &domain.PartialMutationError{
					TargetID:  tp.TargetID,
					SubOp:     p.name,
					Completed: completed,
					Cause:     err,
				}
			}
			if Classify(err, strategy.Idempotent) == AbortAndRollback {
				e.restoreTarget(ctx, ref, rec, entry)
			}
			rec.Error = err.Error()
			return err
		}

		rec.Applied = applied
		completed++
	}

	rec.Success = true
	return nil
}

// readBackup фиксирует состояние цели непосредственно перед записью.
// 404 на create легален: ресурса еще нет, откатом будет удаление.
// Провал чтения проваливает цель целиком — без зафиксированного
// backup мутация не выполняется.
func (e *Executor) readBackup(ctx context.Context, req *domain.ChangeRequest, ref connectors.ResourceRef, entry *domain.ChangeLogEntry) (domain.State, error) {
	outcome := domain.CallOutcome{
		TargetID: ref.TargetID,
		Endpoint: ref.Endpoint(),
		Method:   "GET",
	}

	var state domain.State

	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(e.attempts),
		retry.LastErrorOnly(true),
		retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
			var tErr *connectors.ThrottleError
			if errors.As(err, &tErr) {
				return tErr.RetryAfter
			}
			return retry.BackOffDelay(n, err, config)
		}),
		retry.RetryIf(func(err error) bool {
			// Чтение идемпотентно независимо от вида ресурса
			return Classify(err, true) == Retry
		}),
	)

	err := r.Do(func() error {
		outcome.Attempts++

		tCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
		defer cancel()

		res, callErr := e.api.Read(tCtx, ref)
		if callErr != nil {
			var apiErr *connectors.APIError
			if errors.As(callErr, &apiErr) {
				outcome.StatusCode = apiErr.StatusCode
				if req.Operation == domain.OpCreate && apiErr.StatusCode == 404 {
					state = domain.State{}
					return nil
				}
			}
			return callErr
		}

		state = res
		outcome.StatusCode = 200
		return nil
	})

	if err != nil {
		outcome.Error = err.Error()
		entry.Calls = append(entry.Calls, outcome)
		e.logger.Error("backup read failed, target not applied",
			zap.String("endpoint", ref.Endpoint()),
			zap.Int("attempts", outcome.Attempts),
			zap.Error(err),
		)
		return nil, fmt.Errorf("backup read %s: %w", ref.Endpoint(), err)
	}

	outcome.Success = true
	entry.Calls = append(entry.Calls, outcome)
	return state, nil
}

type subOpPayload struct {
	name    string
	payload domain.State
}

// subOpPayloads режет предлагаемое состояние на упорядоченные payload'ы.
// Без под-операций уходит один полный payload. Под-операция с явным
// списком полей забирает их себе, остальные поля достаются шагу
// с пустым списком.
func subOpPayloads(strategy domain.KindStrategy, proposed domain.State) []subOpPayload {
	// Пустое предлагаемое состояние — это удаление: один вызов
	// независимо от под-операций вида
	if len(strategy.SubOps) == 0 || len(proposed) == 0 {
		return []subOpPayload{{name: "apply", payload: proposed}}
	}

	claimed := make(map[string]struct{})
	for _, op := range strategy.SubOps {
		for _, f := range op.Fields {
			claimed[f] = struct{}{}
		}
	}

	var out []subOpPayload
	for _, op := range strategy.SubOps {
		payload := domain.State{}
		if len(op.Fields) == 0 {
			for k, v := range proposed {
				if _, taken := claimed[k]; !taken {
					payload[k] = v
				}
			}
		} else {
			for _, f := range op.Fields {
				if v, ok := proposed[f]; ok {
					payload[f] = v
				}
			}
		}
		if len(payload) == 0 {
			continue // Шаг без полей в этом запросе пропускается
		}
		out = append(out, subOpPayload{name: op.Name, payload: payload})
	}
	return out
}

// writeWithRetry — один логический вызов Write с ретраями.
// ThrottleError задает задержку из Retry-After, остальные временные
// ошибки идут через экспоненциальный бэкофф.
func (e *Executor) writeWithRetry(ctx context.Context, ref connectors.ResourceRef, payload domain.State, idempotent bool) (domain.State, domain.CallOutcome, error) {
	outcome := domain.CallOutcome{
		TargetID: ref.TargetID,
		Endpoint: ref.Endpoint(),
		Method:   "PUT",
	}

	var applied domain.State

	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(e.attempts),
		retry.LastErrorOnly(true),
		retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
			var tErr *connectors.ThrottleError
			if errors.As(err, &tErr) {
				return tErr.RetryAfter
			}
			return retry.BackOffDelay(n, err, config)
		}),
		retry.RetryIf(func(err error) bool {
			return Classify(err, idempotent) == Retry
		}),
	)

	err := r.Do(func() error {
		outcome.Attempts++

		tCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
		defer cancel()

		res, callErr := e.api.Write(tCtx, ref, payload)
		if callErr != nil {
			var apiErr *connectors.APIError
			if errors.As(callErr, &apiErr) {
				outcome.StatusCode = apiErr.StatusCode
			}
			return callErr
		}

		applied = res
		outcome.StatusCode = 200
		return nil
	})

	if err != nil {
		outcome.Error = err.Error()
		e.logger.Error("device api write failed",
			zap.String("endpoint", ref.Endpoint()),
			zap.Int("attempts", outcome.Attempts),
			zap.Error(err),
		)
		return nil, outcome, fmt.Errorf("write %s: %w", ref.Endpoint(), err)
	}

	outcome.Success = true
	return applied, outcome, nil
}

// restoreTarget возвращает цель к backup после частичной мутации.
// Best-effort: провал восстановления фиксируется в журнале вызовов,
// но цель все равно считается проваленной.
func (e *Executor) restoreTarget(ctx context.Context, ref connectors.ResourceRef, rec *domain.TargetRecord, entry *domain.ChangeLogEntry) {
	if len(rec.Backup) == 0 {
		return
	}
	e.logger.Warn("restoring target to backup after partial mutation",
		zap.String("endpoint", ref.Endpoint()))

	_, outcome, err := e.writeWithRetry(ctx, ref, rec.Backup, true)
	entry.Calls = append(entry.Calls, outcome)
	if err != nil {
		e.logger.Error("backup restore failed, target left in intermediate state",
			zap.String("endpoint", ref.Endpoint()), zap.Error(err))
	}
}
