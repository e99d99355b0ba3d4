package executor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/netchange-gateway/internal/connectors"
	"github.com/xela07ax/netchange-gateway/internal/domain"
	"go.uber.org/zap"
)

type writeCall struct {
	endpoint string
	payload  domain.State
}

// scriptedAPI — Device API со сценарием отказов для исполнителя
type scriptedAPI struct {
	mu      sync.Mutex
	state   domain.State // Текущее состояние цели, отдается на Read
	readErr error
	reads   int
	writes  []writeCall
	writeFn func(ref connectors.ResourceRef, payload domain.State) (domain.State, error)
}

func (s *scriptedAPI) Read(ctx context.Context, ref connectors.ResourceRef) (domain.State, error) {
	s.mu.Lock()
	s.reads++
	readErr := s.readErr
	st := s.state.Clone()
	s.mu.Unlock()
	if readErr != nil {
		return nil, readErr
	}
	if st == nil {
		st = domain.State{}
	}
	return st, nil
}

func (s *scriptedAPI) Write(ctx context.Context, ref connectors.ResourceRef, payload domain.State) (domain.State, error) {
	s.mu.Lock()
	s.writes = append(s.writes, writeCall{endpoint: ref.Endpoint(), payload: payload.Clone()})
	s.mu.Unlock()
	if s.writeFn != nil {
		return s.writeFn(ref, payload)
	}
	return payload.Clone(), nil
}

func (s *scriptedAPI) calls() []writeCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]writeCall(nil), s.writes...)
}

func (s *scriptedAPI) readCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

func portState() domain.State {
	return domain.State{"vlan": 1, "name": "uplink"}
}

func portRequest(targets ...string) (*domain.ChangeRequest, *domain.ChangePreview) {
	req := domain.NewChangeRequest(domain.OriginInteractive, domain.OpUpdate, domain.KindSwitchPort,
		domain.TargetScope{NetworkID: "N_demo"}, domain.State{"vlan": 100})
	req.TargetIDs = targets

	p := &domain.ChangePreview{RequestID: req.ID, Risk: domain.RiskModerate}
	for _, id := range targets {
		p.Targets = append(p.Targets, domain.TargetPreview{
			TargetID: id,
			Current:  portState(),
			Proposed: domain.State{"vlan": 100, "name": "uplink"},
		})
	}
	p.Hash = p.ComputeHash()
	return req, p
}

func newEntry(req *domain.ChangeRequest) *domain.ChangeLogEntry {
	return &domain.ChangeLogEntry{
		ChangeID:  "chg-test",
		RequestID: req.ID,
		Operation: req.Operation,
		Kind:      req.Kind,
	}
}

func fastOptions() Options {
	return Options{Attempts: 3, CallTimeout: time.Second, ConsecutiveFailures: 100, BreakerCooldown: time.Second}
}

func TestApplyPartialFailureKeepsOtherTargets(t *testing.T) {
	api := &scriptedAPI{
		state: portState(),
		writeFn: func(ref connectors.ResourceRef, payload domain.State) (domain.State, error) {
			if ref.TargetID == "p3" {
				return nil, &connectors.APIError{StatusCode: 500, Endpoint: ref.Endpoint(), Method: "PUT", Body: "internal error"}
			}
			return payload.Clone(), nil
		},
	}
	e := New(api, fastOptions(), zap.NewNop())

	req, p := portRequest("p1", "p2", "p3", "p4", "p5")
	entry := newEntry(req)
	e.Apply(context.Background(), req, p, entry)

	assert.Equal(t, domain.StatusPartialSuccess, entry.Status)
	require.Len(t, entry.Targets, 5)

	for _, rec := range entry.Targets {
		if rec.TargetID == "p3" {
			assert.False(t, rec.Success)
			assert.NotEmpty(t, rec.Error)
		} else {
			assert.True(t, rec.Success, "target %s must survive p3 failure", rec.TargetID)
		}
		// Backup фиксируется до мутации у всех, включая проваленную цель
		assert.Equal(t, portState(), rec.Backup)
	}

	// Исчерпаны все попытки ровно по проваленной цели
	var failedOutcome *domain.CallOutcome
	for i := range entry.Calls {
		if entry.Calls[i].TargetID == "p3" {
			failedOutcome = &entry.Calls[i]
		}
	}
	require.NotNil(t, failedOutcome)
	assert.Equal(t, 3, failedOutcome.Attempts)
	assert.Equal(t, 500, failedOutcome.StatusCode)

	assert.True(t, entry.Rollback.Available)
}

func TestApplyAllTargetsFail(t *testing.T) {
	api := &scriptedAPI{
		state: portState(),
		writeFn: func(ref connectors.ResourceRef, payload domain.State) (domain.State, error) {
			return nil, &connectors.APIError{StatusCode: 400, Endpoint: ref.Endpoint(), Method: "PUT", Body: "bad request"}
		},
	}
	e := New(api, fastOptions(), zap.NewNop())

	req, p := portRequest("p1", "p2")
	entry := newEntry(req)
	e.Apply(context.Background(), req, p, entry)

	assert.Equal(t, domain.StatusFailed, entry.Status)
	// 400 не ретраится: по одному вызову на цель
	assert.Len(t, api.calls(), 2)
	assert.False(t, entry.Rollback.Available)
}

func TestApplyBreakerSkipsRemainingTargets(t *testing.T) {
	api := &scriptedAPI{
		state: portState(),
		writeFn: func(ref connectors.ResourceRef, payload domain.State) (domain.State, error) {
			if ref.TargetID == "p1" {
				return nil, &connectors.APIError{StatusCode: 500, Endpoint: ref.Endpoint(), Method: "PUT", Body: "boom"}
			}
			return payload.Clone(), nil
		},
	}
	opts := fastOptions()
	opts.ConsecutiveFailures = 1 // Предохранитель открывается после первой проваленной цели
	e := New(api, opts, zap.NewNop())

	req, p := portRequest("p1", "p2", "p3")
	entry := newEntry(req)
	e.Apply(context.Background(), req, p, entry)

	assert.Equal(t, domain.StatusFailed, entry.Status)
	require.Len(t, entry.Targets, 3)
	assert.Contains(t, entry.Targets[1].Error, "skipped")
	assert.Contains(t, entry.Targets[2].Error, "skipped")
}

func TestApplyHonorsThrottleRetryAfter(t *testing.T) {
	var attempts int
	api := &scriptedAPI{
		state: portState(),
		writeFn: func(ref connectors.ResourceRef, payload domain.State) (domain.State, error) {
			attempts++
			if attempts == 1 {
				return nil, &connectors.ThrottleError{RetryAfter: 5 * time.Millisecond, Cause: fmt.Errorf("429")}
			}
			return payload.Clone(), nil
		},
	}
	e := New(api, fastOptions(), zap.NewNop())

	req, p := portRequest("p1")
	entry := newEntry(req)

	started := time.Now()
	e.Apply(context.Background(), req, p, entry)

	assert.Equal(t, domain.StatusSuccess, entry.Status)
	// Backup-чтение и мутация с одним повтором
	require.Len(t, entry.Calls, 2)
	assert.Equal(t, "GET", entry.Calls[0].Method)
	assert.Equal(t, 2, entry.Calls[1].Attempts)
	// Пауза из Retry-After, а не стандартный бэкофф в сотни миллисекунд
	assert.Less(t, time.Since(started), 100*time.Millisecond)
}

func TestApplyRestoresTargetAfterPartialMutation(t *testing.T) {
	api := &scriptedAPI{
		writeFn: func(ref connectors.ResourceRef, payload domain.State) (domain.State, error) {
			// Шаг включения отвергается, базовая конфигурация уже применена
			if _, isEnable := payload["enabled"]; isEnable && len(payload) == 1 {
				return nil, &connectors.APIError{StatusCode: 400, Endpoint: ref.Endpoint(), Method: "PUT", Body: "invalid"}
			}
			return payload.Clone(), nil
		},
	}
	backup := domain.State{"name": "Office WiFi", "enabled": false, "authMode": "psk"}
	api.state = backup
	e := New(api, fastOptions(), zap.NewNop())

	req := domain.NewChangeRequest(domain.OriginInteractive, domain.OpUpdate, domain.KindSSID,
		domain.TargetScope{NetworkID: "N_demo"}, domain.State{"name": "Guest", "enabled": true})
	req.TargetIDs = []string{"N_demo/0"}
	p := &domain.ChangePreview{
		RequestID: req.ID,
		Targets: []domain.TargetPreview{{
			TargetID: "N_demo/0",
			Current:  backup,
			Proposed: domain.State{"name": "Guest", "enabled": true, "authMode": "psk"},
		}},
	}

	entry := newEntry(req)
	e.Apply(context.Background(), req, p, entry)

	assert.Equal(t, domain.StatusFailed, entry.Status)
	require.False(t, entry.Targets[0].Success)

	calls := api.calls()
	// configure -> enable (отказ) -> восстановление backup
	require.Len(t, calls, 3)
	assert.Equal(t, "Guest", calls[0].payload["name"])
	assert.Equal(t, domain.State{"enabled": true}, calls[1].payload)
	assert.Equal(t, backup, calls[2].payload)
}

func TestApplyCancelledBetweenTargets(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	api := &scriptedAPI{
		state: portState(),
		writeFn: func(ref connectors.ResourceRef, payload domain.State) (domain.State, error) {
			if ref.TargetID == "p1" {
				cancel() // Отмена прилетает после первой цели
			}
			return payload.Clone(), nil
		},
	}
	e := New(api, fastOptions(), zap.NewNop())

	req, p := portRequest("p1", "p2", "p3")
	entry := newEntry(req)
	e.Apply(ctx, req, p, entry)

	assert.Equal(t, domain.StatusPartialSuccess, entry.Status)
	assert.True(t, entry.Targets[0].Success)
	assert.Contains(t, entry.Targets[1].Error, "cancelled")
	assert.Contains(t, entry.Targets[2].Error, "cancelled")
	// Примененная цель остается примененной
	assert.Len(t, api.calls(), 1)
}

func TestApplyBackupIsFreshReadNotPreviewSnapshot(t *testing.T) {
	// Состояние цели дрейфнуло снаружи, пока запрос ждал одобрения:
	// превью собиралось при vlan=1, на устройстве уже vlan=77
	api := &scriptedAPI{state: domain.State{"vlan": 77, "name": "uplink"}}
	e := New(api, fastOptions(), zap.NewNop())

	req, p := portRequest("p1")
	entry := newEntry(req)
	e.Apply(context.Background(), req, p, entry)

	assert.Equal(t, domain.StatusSuccess, entry.Status)
	assert.Equal(t, 1, api.readCount())

	// Backup несет фактическое состояние на момент записи, не снимок превью
	require.Len(t, entry.Targets, 1)
	assert.Equal(t, domain.State{"vlan": 77, "name": "uplink"}, entry.Targets[0].Backup)

	// Чтение backup предшествует мутации в журнале вызовов
	require.Len(t, entry.Calls, 2)
	assert.Equal(t, "GET", entry.Calls[0].Method)
	assert.Equal(t, "PUT", entry.Calls[1].Method)
}

func TestApplyBackupReadFailureSkipsMutation(t *testing.T) {
	api := &scriptedAPI{
		readErr: &connectors.APIError{StatusCode: 403, Endpoint: "/switch_port/p1", Method: "GET", Body: "forbidden"},
	}
	e := New(api, fastOptions(), zap.NewNop())

	req, p := portRequest("p1")
	entry := newEntry(req)
	e.Apply(context.Background(), req, p, entry)

	assert.Equal(t, domain.StatusFailed, entry.Status)
	require.Len(t, entry.Targets, 1)
	assert.False(t, entry.Targets[0].Success)
	assert.Contains(t, entry.Targets[0].Error, "backup read")

	// Без зафиксированного backup мутация не выполняется
	assert.Empty(t, api.calls())
}
