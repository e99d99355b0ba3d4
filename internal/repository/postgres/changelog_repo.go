package postgres

/*
Файл changelog_repo.go реализует персистентность журнала изменений.
Журнал append-only: строки не редактируются после вставки, единственное
исключение — поля отката (SetRollbackRef), которые выставляет Rollback
Engine после успешного восстановления.
*/

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/xela07ax/netchange-gateway/internal/audit"
	"github.com/xela07ax/netchange-gateway/internal/domain"
)

// WriteBatch сохраняет пачку записей одним INSERT (Bulk Insert).
// Вложенные структуры (цели, вызовы, решения) уходят в JSONB: форма
// записи журнала меняется чаще, чем удобно гонять миграции.
func (r *Repo) WriteBatch(ctx context.Context, entries []domain.ChangeLogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	// Количество колонок в таблице change_log
	numFields := 17
	placeholderStr := ""
	vals := make([]interface{}, 0, len(entries)*numFields)

	for i, e := range entries {
		p := i * numFields
		ph := make([]string, numFields)
		for j := 0; j < numFields; j++ {
			ph[j] = fmt.Sprintf("$%d", p+j+1)
		}
		placeholderStr += "(" + strings.Join(ph, ", ") + "),"

		targets, _ := json.Marshal(e.Targets)
		calls, _ := json.Marshal(e.Calls)
		approvals, _ := json.Marshal(e.Approvals)
		warnings, _ := json.Marshal(e.Warnings)
		rollback, _ := json.Marshal(e.Rollback)

		vals = append(vals,
			e.ChangeID, e.RequestID, e.Timestamp, e.Operator, e.Origin,
			e.Operation, e.Kind, e.Summary, e.Risk,
			targets, calls, approvals, warnings,
			e.Status, rollback, nullable(e.RollbackOf), e.DurationMs,
		)
	}

	query := fmt.Sprintf(
		`INSERT INTO change_log (change_id, request_id, timestamp, operator, origin,
		 operation, kind, summary, risk, targets, calls, approvals, warnings,
		 status, rollback, rollback_of, duration_ms) VALUES %s`,
		strings.TrimSuffix(placeholderStr, ","),
	)

	_, err := r.pool.Exec(ctx, query, vals...)
	if err != nil {
		return fmt.Errorf("postgres: failed to insert change log batch: %w", err)
	}
	return nil
}

func (r *Repo) GetByChangeID(ctx context.Context, changeID string) (*domain.ChangeLogEntry, error) {
	query := `
		SELECT change_id, request_id, timestamp, operator, origin, operation, kind,
		       summary, risk, targets, calls, approvals, warnings, status, rollback,
		       COALESCE(rollback_of, ''), duration_ms
		FROM change_log WHERE change_id = $1`

	row := r.pool.QueryRow(ctx, query, changeID)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("change %s not found", changeID)
		}
		return nil, fmt.Errorf("postgres: failed to get change: %w", err)
	}
	return entry, nil
}

func (r *Repo) List(ctx context.Context, filter audit.ListFilter) ([]domain.ChangeLogEntry, error) {
	query := `
		SELECT change_id, request_id, timestamp, operator, origin, operation, kind,
		       summary, risk, targets, calls, approvals, warnings, status, rollback,
		       COALESCE(rollback_of, ''), duration_ms
		FROM change_log`

	var conds []string
	var args []interface{}
	if filter.Operator != "" {
		args = append(args, filter.Operator)
		conds = append(conds, fmt.Sprintf("operator = $%d", len(args)))
	}
	if filter.Kind != "" {
		args = append(args, filter.Kind)
		conds = append(conds, fmt.Sprintf("kind = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT %d", limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query change log: %w", err)
	}
	defer rows.Close()

	// Пустой слайс, чтобы в JSON был [] вместо null
	results := make([]domain.ChangeLogEntry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan change log row: %w", err)
		}
		results = append(results, *entry)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}

// SetRollbackRef атомарно помечает запись откаченной.
// Условие performed = false защищает от Double Rollback.
func (r *Repo) SetRollbackRef(ctx context.Context, changeID, rollbackChangeID string) error {
	query := `
		UPDATE change_log
		SET status = $1,
		    rollback = jsonb_set(jsonb_set(rollback, '{performed}', 'true'),
		                         '{rollback_change_id}', to_jsonb($2::text))
		WHERE change_id = $3 AND (rollback->>'performed')::boolean = false`

	tag, err := r.pool.Exec(ctx, query, domain.StatusRolledBack, rollbackChangeID, changeID)
	if err != nil {
		return fmt.Errorf("postgres: failed to set rollback ref: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("change %s not found or already rolled back", changeID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*domain.ChangeLogEntry, error) {
	var e domain.ChangeLogEntry
	var targets, calls, approvals, warnings, rollback []byte

	err := row.Scan(
		&e.ChangeID, &e.RequestID, &e.Timestamp, &e.Operator, &e.Origin,
		&e.Operation, &e.Kind, &e.Summary, &e.Risk,
		&targets, &calls, &approvals, &warnings,
		&e.Status, &rollback, &e.RollbackOf, &e.DurationMs,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(targets, &e.Targets); err != nil {
		return nil, fmt.Errorf("decode targets: %w", err)
	}
	if err := json.Unmarshal(calls, &e.Calls); err != nil {
		return nil, fmt.Errorf("decode calls: %w", err)
	}
	if err := json.Unmarshal(approvals, &e.Approvals); err != nil {
		return nil, fmt.Errorf("decode approvals: %w", err)
	}
	if err := json.Unmarshal(warnings, &e.Warnings); err != nil {
		return nil, fmt.Errorf("decode warnings: %w", err)
	}
	if err := json.Unmarshal(rollback, &e.Rollback); err != nil {
		return nil, fmt.Errorf("decode rollback: %w", err)
	}
	return &e, nil
}

// nullable превращает пустую строку в NULL
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
