package verify

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/xela07ax/netchange-gateway/internal/connectors"
	"github.com/xela07ax/netchange-gateway/internal/domain"
	"go.uber.org/zap"
)

// Verifier перечитывает каждую успешно примененную цель и сравнивает
// фактическое состояние с предложенным. Расхождение — это предупреждение
// в записи журнала, не провал: изменение уже применено, и врать об этом
// статусом нельзя.
type Verifier struct {
	api    connectors.DeviceAPI
	logger *zap.Logger
}

func New(api connectors.DeviceAPI, logger *zap.Logger) *Verifier {
	return &Verifier{api: api, logger: logger.Named("verify")}
}

// Verify заполняет VerifiedState у успешных целей записи.
// Пропущенные и проваленные цели не перечитываются: их состояние
// описывает backup либо журнал вызовов.
func (v *Verifier) Verify(ctx context.Context, req *domain.ChangeRequest, preview *domain.ChangePreview, entry *domain.ChangeLogEntry) {
	proposedByTarget := make(map[string]domain.State, len(preview.Targets))
	for _, tp := range preview.Targets {
		proposedByTarget[tp.TargetID] = tp.Proposed
	}

	for i := range entry.Targets {
		rec := &entry.Targets[i]
		if !rec.Success {
			continue
		}

		proposed := proposedByTarget[rec.TargetID]

		ref := connectors.ResourceRef{Kind: req.Kind, TargetID: rec.TargetID}
		actual, err := v.api.Read(ctx, ref)
		if err != nil {
			// Удаление подтверждается отсутствием ресурса
			var apiErr *connectors.APIError
			if len(proposed) == 0 && errors.As(err, &apiErr) && apiErr.StatusCode == 404 {
				rec.Verified = &domain.VerifiedState{MatchesExpected: true}
				continue
			}
			// Контрольное чтение не удалось: фиксируем как несовпадение
			// без данных, оператор перепроверит руками
			rec.Verified = &domain.VerifiedState{MatchesExpected: false}
			entry.Warnings = append(entry.Warnings, domain.Warning{
				Severity: domain.SeverityWarning,
				Code:     "verify_read_failed",
				Message:  fmt.Sprintf("post-apply read failed: %v", err),
				TargetID: rec.TargetID,
			})
			continue
		}

		mismatches := compare(proposed, actual)
		rec.Verified = &domain.VerifiedState{
			State:           actual,
			MatchesExpected: len(mismatches) == 0,
			Mismatches:      mismatches,
		}

		if len(mismatches) > 0 {
			v.logger.Warn("verified state diverges from proposed",
				zap.String("change_id", entry.ChangeID),
				zap.String("target_id", rec.TargetID),
				zap.Int("mismatches", len(mismatches)),
			)
			entry.Warnings = append(entry.Warnings, domain.Warning{
				Severity: domain.SeverityWarning,
				Code:     "verify_mismatch",
				Message:  fmt.Sprintf("%d field(s) differ from proposed state after apply", len(mismatches)),
				TargetID: rec.TargetID,
			})
		}
	}
}

// compare сверяет поля предложенного состояния с фактическим.
// Поля, которых в предложенном не было, не сравниваются: удаленный API
// дописывает собственные (серийники, счетчики, таймстемпы).
func compare(proposed, actual domain.State) []domain.FieldDiff {
	keys := make([]string, 0, len(proposed))
	for k := range proposed {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var diffs []domain.FieldDiff
	for _, k := range keys {
		want := proposed[k]
		got := actual[k]
		if reflect.DeepEqual(want, got) {
			continue
		}
		diffs = append(diffs, domain.FieldDiff{Field: k, Before: want, After: got})
	}
	return diffs
}
