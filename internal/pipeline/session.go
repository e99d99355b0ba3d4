package pipeline

import (
	"context"
	"sync"

	"github.com/xela07ax/netchange-gateway/internal/domain"
)

// Session — контекст одного оператора. В сессии в каждый момент живет
// не больше одного активного прогона: параллельные мутации от одного
// человека порождают гонки за одно и то же удаленное состояние.
type Session struct {
	Operator  string
	NetworkID string

	mu     sync.Mutex
	active bool
	cancel context.CancelFunc
}

func NewSession(operator, networkID string) *Session {
	return &Session{Operator: operator, NetworkID: networkID}
}

// acquire помечает сессию занятой и вешает cancel активного прогона
func (s *Session) acquire(cancel context.CancelFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return domain.ErrPipelineBusy
	}
	s.active = true
	s.cancel = cancel
	return nil
}

func (s *Session) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	s.cancel = nil
}

// Cancel кооперативно останавливает активный прогон сессии.
// Уже примененные цели остаются примененными; ожидание подтверждения
// обрывается как отказ.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}
