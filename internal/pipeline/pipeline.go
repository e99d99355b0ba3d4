package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/netchange-gateway/internal/audit"
	"github.com/xela07ax/netchange-gateway/internal/confirm"
	"github.com/xela07ax/netchange-gateway/internal/domain"
	"github.com/xela07ax/netchange-gateway/internal/executor"
	"github.com/xela07ax/netchange-gateway/internal/preview"
	"github.com/xela07ax/netchange-gateway/internal/resolve"
	"github.com/xela07ax/netchange-gateway/internal/risk"
	"github.com/xela07ax/netchange-gateway/internal/verify"
	"go.uber.org/zap"
)

// StageNotifier получает сигналы о прохождении стадий.
// Консоль вешается сюда, чтобы отдать превью оператору, пока прогон
// висит в ожидании решения.
type StageNotifier interface {
	PreviewBuilt(req *domain.ChangeRequest, p *domain.ChangePreview)
}

type noopNotifier struct{}

func (noopNotifier) PreviewBuilt(*domain.ChangeRequest, *domain.ChangePreview) {}

// Pipeline — последовательный конвейер одного изменения:
// resolve -> classify -> preview -> confirm -> apply -> verify -> audit.
// Стадии не перекрываются; единственная точка приостановки внутри
// стадий — ожидание токена лимитера.
type Pipeline struct {
	classifier *risk.Classifier
	resolver   *resolve.Resolver
	previewer  *preview.Builder
	gate       *confirm.Gate
	exec       *executor.Executor
	verifier   *verify.Verifier
	writer     *audit.Writer

	notifier StageNotifier
	metrics  *Metrics
	logger   *zap.Logger
}

func New(
	classifier *risk.Classifier,
	resolver *resolve.Resolver,
	previewer *preview.Builder,
	gate *confirm.Gate,
	exec *executor.Executor,
	verifier *verify.Verifier,
	writer *audit.Writer,
	notifier StageNotifier,
	metrics *Metrics,
	logger *zap.Logger,
) *Pipeline {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Pipeline{
		classifier: classifier,
		resolver:   resolver,
		previewer:  previewer,
		gate:       gate,
		exec:       exec,
		verifier:   verifier,
		writer:     writer,
		notifier:   notifier,
		metrics:    metrics,
		logger:     logger.Named("pipeline"),
	}
}

// Run проводит один запрос через весь конвейер и возвращает запись
// журнала. Ошибка не-nil на отказных путях до мутации (resolve,
// preview, отказ/просрочка подтверждения); частичный успех после
// мутации ошибкой не является — его описывает статус записи.
func (p *Pipeline) Run(ctx context.Context, sess *Session, req *domain.ChangeRequest) (*domain.ChangeLogEntry, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := sess.acquire(cancel); err != nil {
		return nil, err
	}
	defer sess.release()

	started := time.Now()
	p.metrics.RunsTotal.WithLabelValues(string(req.Kind), string(req.Operation)).Inc()

	log := p.logger.With(
		zap.String("request_id", req.ID),
		zap.String("operator", sess.Operator),
		zap.String("kind", string(req.Kind)),
		zap.String("operation", string(req.Operation)),
	)

	// 1. Резолв области в конкретные цели
	resolveWarnings, err := p.resolver.Resolve(runCtx, req)
	if err != nil {
		p.metrics.ErrorTotal.WithLabelValues("resolve").Inc()
		return nil, err
	}

	// 2. Классификация риска (порог массовости знает число целей)
	req.Risk = p.classifier.Classify(req)

	// 3. Превью: дифф до/после плюс эскалация по факту
	pv, err := p.previewer.Build(runCtx, req)
	if err != nil {
		p.metrics.ErrorTotal.WithLabelValues("preview").Inc()
		return nil, err
	}
	pv.Warnings = append(resolveWarnings, pv.Warnings...)
	p.notifier.PreviewBuilt(req, pv)

	// 4. Блокирующее подтверждение. Нет ответа — нет мутаций.
	approvals, gateErr := p.gate.Await(runCtx, req, pv)
	if gateErr != nil {
		entry := p.newEntry(sess, req, pv, started)
		entry.Approvals = approvals
		switch {
		case errors.Is(gateErr, domain.ErrConfirmationExpired):
			entry.Status = domain.StatusExpired
			p.metrics.GateDecisions.WithLabelValues("expired").Inc()
		default:
			entry.Status = domain.StatusRejected
			p.metrics.GateDecisions.WithLabelValues("rejected").Inc()
		}
		entry.DurationMs = time.Since(started).Milliseconds()
		p.writer.Append(*entry)
		p.metrics.PipelineDuration.WithLabelValues(string(req.Kind), string(entry.Status)).
			Observe(time.Since(started).Seconds())
		log.Warn("change not applied", zap.String("status", string(entry.Status)))
		return entry, gateErr
	}
	p.metrics.GateDecisions.WithLabelValues("approved").Inc()

	// 5. Применение: backup каждой цели фиксируется до ее мутации
	entry := p.newEntry(sess, req, pv, started)
	entry.Approvals = approvals
	p.exec.Apply(runCtx, req, pv, entry)

	// 6. Контрольное чтение успешных целей
	p.verifier.Verify(runCtx, req, pv, entry)

	// 7. Журнал
	entry.DurationMs = time.Since(started).Milliseconds()
	p.writer.Append(*entry)

	p.metrics.PipelineDuration.WithLabelValues(string(req.Kind), string(entry.Status)).
		Observe(time.Since(started).Seconds())

	log.Info("pipeline run finished",
		zap.String("change_id", entry.ChangeID),
		zap.String("status", string(entry.Status)),
		zap.Int64("duration_ms", entry.DurationMs),
	)
	return entry, nil
}

// RunAll проводит очередь запросов строго последовательно и
// останавливается на первом не-успехе: дальнейшие изменения могли
// рассчитывать на результат провалившегося.
func (p *Pipeline) RunAll(ctx context.Context, sess *Session, reqs []*domain.ChangeRequest) ([]*domain.ChangeLogEntry, error) {
	var entries []*domain.ChangeLogEntry
	for i, req := range reqs {
		entry, err := p.Run(ctx, sess, req)
		if entry != nil {
			entries = append(entries, entry)
		}
		if err != nil {
			return entries, fmt.Errorf("queue stopped at request %d/%d: %w", i+1, len(reqs), err)
		}
		if entry.Status != domain.StatusSuccess {
			return entries, fmt.Errorf("queue stopped at request %d/%d: status %s",
				i+1, len(reqs), entry.Status)
		}
	}
	return entries, nil
}

func (p *Pipeline) newEntry(sess *Session, req *domain.ChangeRequest, pv *domain.ChangePreview, started time.Time) *domain.ChangeLogEntry {
	return &domain.ChangeLogEntry{
		ChangeID:   uuid.New().String(),
		RequestID:  req.ID,
		Timestamp:  started,
		Operator:   sess.Operator,
		Origin:     req.Origin,
		Operation:  req.Operation,
		Kind:       req.Kind,
		Summary:    summarize(req),
		Risk:       pv.Risk,
		Warnings:   pv.Warnings,
		RollbackOf: req.RollbackOf,
	}
}

func summarize(req *domain.ChangeRequest) string {
	return fmt.Sprintf("%s %s on %d target(s) in %s",
		req.Operation, req.Kind, len(req.TargetIDs), req.Scope.NetworkID)
}
