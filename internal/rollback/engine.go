package rollback

import (
	"context"
	"fmt"

	"github.com/xela07ax/netchange-gateway/internal/audit"
	"github.com/xela07ax/netchange-gateway/internal/domain"
	"github.com/xela07ax/netchange-gateway/internal/pipeline"
	"go.uber.org/zap"
)

// Runner запускает прогон конвейера. Откат не имеет собственного пути
// к устройствам: он собирает обычный ChangeRequest и проходит через
// превью, подтверждение, backup и верификацию как любое изменение.
type Runner interface {
	Run(ctx context.Context, sess *pipeline.Session, req *domain.ChangeRequest) (*domain.ChangeLogEntry, error)
}

// Flusher синхронно доталкивает буфер асинхронного журнала до
// хранилища. Без него откат, запрошенный сразу после прогона, может
// не найти запись, которая еще стоит в пачке писателя.
type Flusher interface {
	Flush()
}

type Engine struct {
	store   audit.Store
	runner  Runner
	flusher Flusher
	logger  *zap.Logger
}

func NewEngine(store audit.Store, runner Runner, flusher Flusher, logger *zap.Logger) *Engine {
	return &Engine{store: store, runner: runner, flusher: flusher, logger: logger.Named("rollback")}
}

// AttachRunner подвязывает конвейер после сборки (конвейер и движок
// отката собираются в разном порядке в main)
func (e *Engine) AttachRunner(r Runner) {
	e.runner = r
}

// Rollback откатывает запись журнала к ее backup-снимкам.
// Непригодная запись отклоняется до единого удаленного вызова.
// Откат получает собственный change id; исходная запись помечается
// rolled_back только после успешного прогона.
func (e *Engine) Rollback(ctx context.Context, sess *pipeline.Session, changeID string) (*domain.ChangeLogEntry, error) {
	// Свежая запись может еще стоять в очереди писателя
	if e.flusher != nil {
		e.flusher.Flush()
	}

	entry, err := e.store.GetByChangeID(ctx, changeID)
	if err != nil {
		return nil, &domain.RollbackUnavailableError{ChangeID: changeID, Reason: "entry not found"}
	}

	if entry.Rollback.Performed {
		return nil, &domain.RollbackUnavailableError{
			ChangeID: changeID,
			Reason:   fmt.Sprintf("already rolled back by change %s", entry.Rollback.RollbackChangeID),
		}
	}
	if !entry.Rollback.Available {
		reason := "no backup state recorded"
		if s, ok := domain.StrategyFor(entry.Kind); ok && !s.Restorable(entry.Operation) {
			reason = fmt.Sprintf("%s %s is not restorable by replaying a snapshot", entry.Operation, entry.Kind)
		}
		return nil, &domain.RollbackUnavailableError{ChangeID: changeID, Reason: reason}
	}

	// Откатываются только цели, которые реально мутировали.
	// Проваленные цели либо не трогались, либо уже возвращены к backup.
	snapshots := make(map[string]interface{})
	var targetIDs []string
	for _, t := range entry.Targets {
		if !t.Success || len(t.Backup) == 0 {
			continue
		}
		snapshots[t.TargetID] = map[string]interface{}(t.Backup.Clone())
		targetIDs = append(targetIDs, t.TargetID)
	}
	if len(targetIDs) == 0 {
		return nil, &domain.RollbackUnavailableError{ChangeID: changeID, Reason: "no applied targets to restore"}
	}

	req := domain.NewChangeRequest(
		domain.OriginInteractive,
		domain.OpRollback,
		entry.Kind,
		domain.TargetScope{Description: fmt.Sprintf("rollback of change %s", changeID)},
		domain.State{"targets": snapshots},
	)
	req.TargetIDs = targetIDs
	req.RollbackOf = changeID

	e.logger.Info("rollback pipeline starting",
		zap.String("change_id", changeID),
		zap.String("rollback_request_id", req.ID),
		zap.Int("targets", len(targetIDs)),
	)

	rbEntry, err := e.runner.Run(ctx, sess, req)
	if err != nil {
		return rbEntry, fmt.Errorf("rollback of change %s: %w", changeID, err)
	}

	if rbEntry.Status != domain.StatusSuccess {
		// Частичный откат не помечает исходную запись откаченной:
		// часть целей все еще несет примененное изменение
		e.logger.Error("rollback did not fully restore targets",
			zap.String("change_id", changeID),
			zap.String("rollback_change_id", rbEntry.ChangeID),
			zap.String("status", string(rbEntry.Status)),
		)
		return rbEntry, fmt.Errorf("rollback of change %s finished with status %s", changeID, rbEntry.Status)
	}

	if err := e.store.SetRollbackRef(ctx, changeID, rbEntry.ChangeID); err != nil {
		e.logger.Error("failed to link rollback to original entry",
			zap.String("change_id", changeID), zap.Error(err))
		return rbEntry, err
	}

	e.logger.Info("change rolled back",
		zap.String("change_id", changeID),
		zap.String("rollback_change_id", rbEntry.ChangeID),
	)
	return rbEntry, nil
}
