package connectors

import (
	"context"
	"math/rand/v2" // Используем v2 для Go 1.25
	"sync"
	"time"

	"github.com/xela07ax/netchange-gateway/internal/domain"
)

// MockDeviceAPI — In-memory имитация Device API для локального запуска
// без живой организации. Состояния хранятся по ref, запись возвращает
// то, что записали (как делает реальный dashboard).
type MockDeviceAPI struct {
	mu     sync.RWMutex
	states map[string]domain.State

	// Latency добавляет реалистичную задержку 20-120мс на вызов
	Latency bool
}

func NewMockDeviceAPI() *MockDeviceAPI {
	m := &MockDeviceAPI{states: make(map[string]domain.State)}

	// Демо-набор: сеть с единственным fallback-allow правилом и парой ресурсов
	m.states["/firewall_rule/N_demo"] = domain.State{
		"rules": []interface{}{
			map[string]interface{}{
				"comment": "Default rule", "policy": "allow",
				"protocol": "any", "srcCidr": "any", "destCidr": "any", "destPort": "any",
			},
		},
	}
	m.states["/ssid/N_demo/0"] = domain.State{
		"name": "Office WiFi", "enabled": true, "authMode": "psk",
	}
	m.states["/vlan/N_demo/100"] = domain.State{
		"name": "Data", "subnet": "10.0.100.0/24", "applianceIp": "10.0.100.1",
	}
	return m
}

// Seed подкладывает состояние (для тестов и демо-сценариев)
func (m *MockDeviceAPI) Seed(ref ResourceRef, st domain.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[ref.Endpoint()] = st.Clone()
}

func (m *MockDeviceAPI) sleep(ctx context.Context) error {
	if !m.Latency {
		return nil
	}
	d := time.Duration(20+rand.IntN(100)) * time.Millisecond
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MockDeviceAPI) Read(ctx context.Context, ref ResourceRef) (domain.State, error) {
	if err := m.sleep(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[ref.Endpoint()]
	if !ok {
		return nil, &APIError{StatusCode: 404, Endpoint: ref.Endpoint(), Method: "GET", Body: "resource not found"}
	}
	return st.Clone(), nil
}

func (m *MockDeviceAPI) Write(ctx context.Context, ref ResourceRef, payload domain.State) (domain.State, error) {
	if err := m.sleep(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	// Пустой payload означает удаление ресурса
	if len(payload) == 0 {
		delete(m.states, ref.Endpoint())
		return domain.State{}, nil
	}

	// Частичный payload накладывается на существующее состояние,
	// как это делает реальный dashboard при PUT отдельных атрибутов
	st := m.states[ref.Endpoint()].Clone()
	if st == nil {
		st = domain.State{}
	}
	for k, v := range payload.Clone() {
		st[k] = v
	}
	m.states[ref.Endpoint()] = st
	return st.Clone(), nil
}

// MockDirectory — разворачивание областей для dev-режима.
// Отдает цели демо-сети в зависимости от вида ресурса.
type MockDirectory struct{}

func (MockDirectory) ExpandScope(ctx context.Context, kind domain.ResourceKind, scope domain.TargetScope) ([]string, error) {
	network := scope.NetworkID
	if network == "" {
		network = "N_demo"
	}
	switch kind {
	case domain.KindFirewallRule, domain.KindSwitchACL, domain.KindAlertSettings:
		return []string{network}, nil
	case domain.KindSSID:
		return []string{network + "/0"}, nil
	case domain.KindVLAN:
		return []string{network + "/100"}, nil
	case domain.KindSwitchPort:
		return []string{network + "/1", network + "/2"}, nil
	}
	return nil, nil
}

// AllowAllChecker — заглушка проверки записываемости для dev-режима
type AllowAllChecker struct{}

func (AllowAllChecker) IsWritable(ctx context.Context, ref ResourceRef) (bool, string, error) {
	return true, "", nil
}

// NoopValidator — заглушка доменной валидации для dev-режима
type NoopValidator struct{}

func (NoopValidator) Validate(ctx context.Context, kind domain.ResourceKind, proposed domain.State) []domain.Warning {
	return nil
}
