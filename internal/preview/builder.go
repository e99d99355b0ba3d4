package preview

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/xela07ax/netchange-gateway/internal/connectors"
	"github.com/xela07ax/netchange-gateway/internal/domain"
	"github.com/xela07ax/netchange-gateway/internal/risk"
	"go.uber.org/zap"
)

// Builder считает до/после по каждой цели, не трогая удаленную систему:
// одно чтение текущего состояния на цель (через лимитер), предлагаемое
// состояние вычисляется на копии. Превью пересобирается на каждый
// заход — кэша между правками оператора нет.
type Builder struct {
	api       connectors.DeviceAPI
	validator connectors.DomainValidator
	logger    *zap.Logger
}

func NewBuilder(api connectors.DeviceAPI, validator connectors.DomainValidator, logger *zap.Logger) *Builder {
	return &Builder{api: api, validator: validator, logger: logger.Named("preview")}
}

func (b *Builder) Build(ctx context.Context, req *domain.ChangeRequest) (*domain.ChangePreview, error) {
	strategy, ok := domain.StrategyFor(req.Kind)
	if !ok {
		return nil, &domain.PreviewComputationError{
			RequestID: req.ID,
			Reason:    fmt.Sprintf("unknown resource kind %q", req.Kind),
		}
	}

	p := &domain.ChangePreview{
		RequestID: req.ID,
		Risk:      req.Risk,
		BuiltAt:   time.Now(),
		Impact: domain.ImpactSummary{
			TargetCount: len(req.TargetIDs),
			Downtime:    strategy.Downtime,
		},
	}

	for _, targetID := range req.TargetIDs {
		ref := connectors.ResourceRef{Kind: req.Kind, TargetID: targetID}

		current, err := b.readCurrent(ctx, req, ref)
		if err != nil {
			return nil, err
		}

		proposed, err := b.propose(req, strategy, targetID, current)
		if err != nil {
			return nil, err
		}

		tp := domain.TargetPreview{
			TargetID: targetID,
			Current:  current,
			Proposed: proposed,
			Diff:     diffStates(strategy, current, proposed),
		}
		p.Targets = append(p.Targets, tp)

		b.escalate(p, req, strategy, tp)

		if b.validator != nil {
			p.Warnings = append(p.Warnings, b.validator.Validate(ctx, req.Kind, proposed)...)
		}
	}

	p.Hash = p.ComputeHash()

	b.logger.Info("preview built",
		zap.String("request_id", req.ID),
		zap.String("hash", p.Hash),
		zap.String("risk", string(p.Risk)),
		zap.Int("targets", len(p.Targets)),
		zap.Int("warnings", len(p.Warnings)),
	)
	return p, nil
}

// readCurrent читает снимок цели. Create поверх отсутствующего ресурса
// легален: 404 дает пустое текущее состояние.
func (b *Builder) readCurrent(ctx context.Context, req *domain.ChangeRequest, ref connectors.ResourceRef) (domain.State, error) {
	current, err := b.api.Read(ctx, ref)
	if err != nil {
		var apiErr *connectors.APIError
		if req.Operation == domain.OpCreate && errors.As(err, &apiErr) && apiErr.StatusCode == 404 {
			return domain.State{}, nil
		}
		return nil, fmt.Errorf("read current state of %s: %w", ref.Endpoint(), err)
	}
	return current, nil
}

// propose строит предлагаемое состояние на копии текущего
func (b *Builder) propose(req *domain.ChangeRequest, strategy domain.KindStrategy, targetID string, current domain.State) (domain.State, error) {
	if strategy.Collection {
		entries, _ := current[strategy.CollectionField].([]interface{})
		merged, err := mergeCollection(req, targetID, entries)
		if err != nil {
			return nil, err
		}
		proposed := current.Clone()
		if proposed == nil {
			proposed = domain.State{}
		}
		proposed[strategy.CollectionField] = merged
		return proposed, nil
	}

	switch req.Operation {
	case domain.OpDelete:
		return domain.State{}, nil
	case domain.OpRollback:
		snap, err := rollbackSnapshot(req, targetID)
		if err != nil {
			return nil, err
		}
		return snap.Clone(), nil
	default: // create / update: накладываем параметры на копию
		proposed := current.Clone()
		if proposed == nil {
			proposed = domain.State{}
		}
		for k, v := range req.Params {
			proposed[k] = v
		}
		return proposed, nil
	}
}

// escalate применяет правила эскалации риска по фактическому диффу.
// Риск только растет: понижения относительно исходной классификации нет.
func (b *Builder) escalate(p *domain.ChangePreview, req *domain.ChangeRequest, strategy domain.KindStrategy, tp domain.TargetPreview) {
	if !strategy.Collection {
		return
	}
	proposed, _ := tp.Proposed[strategy.CollectionField].([]interface{})
	currentEntries, _ := tp.Current[strategy.CollectionField].([]interface{})

	for i, e := range proposed {
		if m, ok := e.(map[string]interface{}); ok && risk.IsDenyAllRule(m) {
			p.Risk = p.Risk.Escalate(domain.RiskCritical)
			p.Warnings = append(p.Warnings, domain.Warning{
				Severity: domain.SeverityCritical,
				Code:     "deny_all_rule",
				Message:  fmt.Sprintf("rule %d denies any source to any destination", i),
				TargetID: tp.TargetID,
			})
		}
	}

	if len(proposed) > 0 && !hasAllowFallback(proposed) {
		p.Risk = p.Risk.Escalate(domain.RiskCritical)
		p.Warnings = append(p.Warnings, domain.Warning{
			Severity: domain.SeverityCritical,
			Code:     "no_allow_fallback",
			Message:  "proposed collection has no allow fallback: all unmatched traffic will be dropped",
			TargetID: tp.TargetID,
		})
	}

	// Существующее правило сместилось по позиции без изменения
	// содержимого: семантика списка зависит от порядка, эскалируем
	// минимум до high
	if shifted := shiftedEntries(currentEntries, proposed); len(shifted) > 0 {
		p.Risk = p.Risk.Escalate(domain.RiskHigh)
		p.Warnings = append(p.Warnings, domain.Warning{
			Severity: domain.SeverityWarning,
			Code:     "position_shift",
			Message:  fmt.Sprintf("%d pre-existing rule(s) change position without content change", len(shifted)),
			TargetID: tp.TargetID,
		})
	}
}

// diffStates — полевой дифф. Для коллекций сравнение идет по всей
// результирующей коллекции, не только по новой записи.
func diffStates(strategy domain.KindStrategy, current, proposed domain.State) []domain.FieldDiff {
	if strategy.Collection {
		before, _ := current[strategy.CollectionField].([]interface{})
		after, _ := proposed[strategy.CollectionField].([]interface{})
		return diffCollection(strategy.CollectionField, before, after)
	}
	return diffFlat("", current, proposed)
}

func diffFlat(prefix string, before, after domain.State) []domain.FieldDiff {
	keys := make(map[string]struct{}, len(before)+len(after))
	for k := range before {
		keys[k] = struct{}{}
	}
	for k := range after {
		keys[k] = struct{}{}
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	var diffs []domain.FieldDiff
	for _, k := range sorted {
		bv, av := before[k], after[k]
		if reflect.DeepEqual(bv, av) {
			continue
		}
		field := k
		if prefix != "" {
			field = prefix + "." + k
		}
		diffs = append(diffs, domain.FieldDiff{Field: field, Before: bv, After: av})
	}
	return diffs
}

func diffCollection(field string, before, after []interface{}) []domain.FieldDiff {
	var diffs []domain.FieldDiff
	n := len(before)
	if len(after) > n {
		n = len(after)
	}
	for i := 0; i < n; i++ {
		var bm, am domain.State
		if i < len(before) {
			if m, ok := before[i].(map[string]interface{}); ok {
				bm = domain.State(m)
			}
		}
		if i < len(after) {
			if m, ok := after[i].(map[string]interface{}); ok {
				am = domain.State(m)
			}
		}
		diffs = append(diffs, diffFlat(fmt.Sprintf("%s[%d]", field, i), bm, am)...)
	}
	return diffs
}
