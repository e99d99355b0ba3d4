package preview

import (
	"encoding/json"
	"fmt"

	"github.com/xela07ax/netchange-gateway/internal/domain"
)

// Коллекционные ресурсы (firewall, ACL) удаленный API заменяет целиком
// одним вызовом. Ошибка слияния здесь — потерянное default-правило или
// вставка не в ту позицию — уезжает на устройство как есть, поэтому
// вся аккуратность сосредоточена в билдере, а не в исполнителе.

// mergeCollection вычисляет предлагаемый список записей из текущего.
// Все существующие записи, чья позиция не затронута явно, сохраняются.
func mergeCollection(req *domain.ChangeRequest, targetID string, current []interface{}) ([]interface{}, error) {
	switch req.Operation {
	case domain.OpCreate:
		return insertEntry(req, current)
	case domain.OpUpdate:
		return updateEntry(req, current)
	case domain.OpDelete:
		return deleteEntry(req, current)
	case domain.OpRollback:
		// Откат несет полный снимок коллекции цели в параметрах
		snap, err := rollbackSnapshot(req, targetID)
		if err != nil {
			return nil, err
		}
		rules, ok := snap[collectionField(req.Kind)].([]interface{})
		if !ok {
			return nil, &domain.PreviewComputationError{
				RequestID: req.ID,
				Reason:    fmt.Sprintf("rollback snapshot of %s carries no collection", targetID),
			}
		}
		return cloneEntries(rules), nil
	}
	return nil, &domain.PreviewComputationError{
		RequestID: req.ID,
		Reason:    fmt.Sprintf("unsupported collection operation %q", req.Operation),
	}
}

func insertEntry(req *domain.ChangeRequest, current []interface{}) ([]interface{}, error) {
	rule, ok := req.Params["rule"].(map[string]interface{})
	if !ok {
		return nil, &domain.PreviewComputationError{
			RequestID: req.ID,
			Reason:    `create on a collection requires params["rule"]`,
		}
	}

	out := cloneEntries(current)

	if pos, ok := paramIndex(req.Params, "position"); ok {
		if pos < 0 || pos > len(out) {
			return nil, &domain.PreviewComputationError{
				RequestID: req.ID,
				Reason:    fmt.Sprintf("insert position %d out of range 0..%d", pos, len(out)),
			}
		}
		out = append(out[:pos], append([]interface{}{rule}, out[pos:]...)...)
		return out, nil
	}

	// Позиция не задана: новая запись встает ПЕРЕД замыкающим
	// fallback-allow, чтобы не перекрыть его и не оказаться мертвой
	if n := len(out); n > 0 && isFallbackAllow(out[n-1]) {
		out = append(out[:n-1], rule, out[n-1])
		return out, nil
	}
	return append(out, rule), nil
}

func updateEntry(req *domain.ChangeRequest, current []interface{}) ([]interface{}, error) {
	idx, ok := paramIndex(req.Params, "index")
	if !ok {
		return nil, &domain.PreviewComputationError{
			RequestID: req.ID,
			Reason:    `update on a collection requires params["index"]`,
		}
	}
	if idx < 0 || idx >= len(current) {
		return nil, &domain.PreviewComputationError{
			RequestID: req.ID,
			Reason:    fmt.Sprintf("rule index %d out of range 0..%d", idx, len(current)-1),
		}
	}
	patch, ok := req.Params["rule"].(map[string]interface{})
	if !ok {
		return nil, &domain.PreviewComputationError{
			RequestID: req.ID,
			Reason:    `update on a collection requires params["rule"]`,
		}
	}

	out := cloneEntries(current)
	entry, _ := out[idx].(map[string]interface{})
	if entry == nil {
		entry = map[string]interface{}{}
	}
	for k, v := range patch {
		entry[k] = v
	}
	out[idx] = entry
	return out, nil
}

func deleteEntry(req *domain.ChangeRequest, current []interface{}) ([]interface{}, error) {
	idx, ok := paramIndex(req.Params, "index")
	if !ok {
		return nil, &domain.PreviewComputationError{
			RequestID: req.ID,
			Reason:    `delete on a collection requires params["index"]`,
		}
	}
	if idx < 0 || idx >= len(current) {
		return nil, &domain.PreviewComputationError{
			RequestID: req.ID,
			Reason:    fmt.Sprintf("rule index %d out of range 0..%d", idx, len(current)-1),
		}
	}
	out := cloneEntries(current)
	return append(out[:idx], out[idx+1:]...), nil
}

// isFallbackAllow: замыкающее правило "allow any -> any" (или помеченное
// как Default rule), которое обязано пережить любую вставку
func isFallbackAllow(entry interface{}) bool {
	m, ok := entry.(map[string]interface{})
	if !ok {
		return false
	}
	policy, _ := m["policy"].(string)
	if policy != "allow" {
		return false
	}
	src, _ := m["srcCidr"].(string)
	dst, _ := m["destCidr"].(string)
	if src == "any" && dst == "any" {
		return true
	}
	comment, _ := m["comment"].(string)
	return comment == "Default rule"
}

func hasAllowFallback(entries []interface{}) bool {
	for _, e := range entries {
		if m, ok := e.(map[string]interface{}); ok {
			if policy, _ := m["policy"].(string); policy == "allow" {
				return true
			}
		}
	}
	return false
}

// shiftedEntries находит существующие записи, которые не изменились по
// содержимому, но сместились по позиции. Смысл правила в firewall
// зависит от места в списке, поэтому такой сдвиг — повод эскалировать.
func shiftedEntries(before, after []interface{}) []int {
	var shifted []int
	index := make(map[string][]int, len(after))
	for i, e := range after {
		k := entryKey(e)
		index[k] = append(index[k], i)
	}
	for i, e := range before {
		k := entryKey(e)
		positions := index[k]
		if len(positions) == 0 {
			continue // Запись изменена или удалена — это отдельный дифф
		}
		moved := true
		for _, p := range positions {
			if p == i {
				moved = false
				break
			}
		}
		if moved {
			shifted = append(shifted, i)
		}
	}
	return shifted
}

func entryKey(e interface{}) string {
	b, _ := json.Marshal(e)
	return string(b)
}

func cloneEntries(in []interface{}) []interface{} {
	out := make([]interface{}, len(in))
	for i, e := range in {
		if m, ok := e.(map[string]interface{}); ok {
			c := make(map[string]interface{}, len(m))
			for k, v := range m {
				c[k] = v
			}
			out[i] = c
			continue
		}
		out[i] = e
	}
	return out
}

func collectionField(kind domain.ResourceKind) string {
	if s, ok := domain.StrategyFor(kind); ok && s.Collection {
		return s.CollectionField
	}
	return "rules"
}

// rollbackSnapshot достает backup-снимок конкретной цели из параметров
// отката. Rollback Engine кладет снимки под ключ "targets": у каждой
// цели свой backup, общего состояния на весь запрос нет.
func rollbackSnapshot(req *domain.ChangeRequest, targetID string) (domain.State, error) {
	targets, ok := req.Params["targets"].(map[string]interface{})
	if !ok {
		return nil, &domain.PreviewComputationError{
			RequestID: req.ID,
			Reason:    `rollback requires params["targets"] with per-target snapshots`,
		}
	}
	switch snap := targets[targetID].(type) {
	case domain.State:
		return snap, nil
	case map[string]interface{}:
		return domain.State(snap), nil
	}
	return nil, &domain.PreviewComputationError{
		RequestID: req.ID,
		Reason:    fmt.Sprintf("rollback params carry no snapshot for target %s", targetID),
	}
}

// paramIndex достает целочисленный параметр: из JSON числа приходят
// как float64, из кода — как int
func paramIndex(params domain.State, key string) (int, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	}
	return 0, false
}
