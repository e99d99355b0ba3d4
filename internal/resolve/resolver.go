package resolve

import (
	"context"
	"fmt"
	"sort"

	"github.com/xela07ax/netchange-gateway/internal/connectors"
	"github.com/xela07ax/netchange-gateway/internal/domain"
	"go.uber.org/zap"
)

// Directory разворачивает именованную область в конкретные цели.
// Чтения идут через тот же лимитированный клиент, что и весь пайплайн.
type Directory interface {
	ExpandScope(ctx context.Context, kind domain.ResourceKind, scope domain.TargetScope) ([]string, error)
}

// Resolver превращает частично заданный ChangeRequest в запрос с
// конкретными целями. Побочных эффектов нет — только чтения.
type Resolver struct {
	dir     Directory
	checker connectors.CapabilityChecker
	logger  *zap.Logger
}

func NewResolver(dir Directory, checker connectors.CapabilityChecker, logger *zap.Logger) *Resolver {
	return &Resolver{dir: dir, checker: checker, logger: logger.Named("resolver")}
}

// Resolve заполняет req.TargetIDs и возвращает предупреждения по
// исключенным целям. Незаписываемая цель исключается и фиксируется
// как warning — молча не пропадает ничего.
func (r *Resolver) Resolve(ctx context.Context, req *domain.ChangeRequest) ([]domain.Warning, error) {
	if _, ok := domain.StrategyFor(req.Kind); !ok {
		return nil, &domain.TargetResolutionError{
			Scope:  req.Scope,
			Reason: fmt.Sprintf("unknown resource kind %q", req.Kind),
		}
	}

	candidates := req.TargetIDs
	if len(candidates) == 0 {
		expanded, err := r.dir.ExpandScope(ctx, req.Kind, req.Scope)
		if err != nil {
			return nil, &domain.TargetResolutionError{
				Scope:  req.Scope,
				Reason: fmt.Sprintf("scope expansion: %v", err),
			}
		}
		candidates = expanded
	}

	if len(candidates) == 0 {
		return nil, &domain.TargetResolutionError{Scope: req.Scope, Reason: "zero matching targets"}
	}

	var warnings []domain.Warning
	writable := make([]string, 0, len(candidates))

	for _, id := range candidates {
		ref := connectors.ResourceRef{Kind: req.Kind, TargetID: id}

		ok, reason, err := r.checker.IsWritable(ctx, ref)
		if err != nil {
			// Сбой проверки деградирует в "не записываемо", не в отказ
			r.logger.Warn("capability check failed, treating target as locked",
				zap.String("target", id), zap.Error(err))
			ok, reason = false, fmt.Sprintf("capability check error: %v", err)
		}
		if !ok {
			warnings = append(warnings, domain.Warning{
				Severity: domain.SeverityWarning,
				Code:     "target_excluded",
				Message:  fmt.Sprintf("target excluded as non-writable: %s", reason),
				TargetID: id,
			})
			continue
		}
		writable = append(writable, id)
	}

	if len(writable) == 0 {
		return warnings, &domain.TargetResolutionError{
			Scope:  req.Scope,
			Reason: "all matched targets are locked for writing",
		}
	}

	// Стабильный порядок: отчеты о частичных отказах должны быть
	// воспроизводимыми между попытками
	sort.Strings(writable)
	req.TargetIDs = writable

	r.logger.Info("scope resolved",
		zap.String("request_id", req.ID),
		zap.Int("targets", len(writable)),
		zap.Int("excluded", len(warnings)),
	)
	return warnings, nil
}
