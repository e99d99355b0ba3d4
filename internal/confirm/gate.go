package confirm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xela07ax/netchange-gateway/internal/domain"
	"go.uber.org/zap"
)

// GateState — конечный автомат подтверждения
type GateState string

const (
	StatePending  GateState = "pending"
	StateApproved GateState = "approved"
	StateRejected GateState = "rejected"
	StateExpired  GateState = "expired"
)

// Decision — событие решения оператора. Привязано к поколению превью:
// одобрить устаревшее превью после промежуточного чтения нельзя.
type Decision struct {
	RequestID   string `json:"request_id"`
	Reviewer    string `json:"reviewer"`
	Approved    bool   `json:"approved"`
	PreviewHash string `json:"preview_hash"`
	AckImpact   bool   `json:"ack_impact"` // high/critical: сводка влияния показана и подтверждена
	Comment     string `json:"comment,omitempty"`
}

type outcome struct {
	state GateState
	err   error
}

type pendingChange struct {
	req       *domain.ChangeRequest
	preview   *domain.ChangePreview
	state     GateState
	approvals []domain.ApprovalEvent
	done      chan outcome
}

// Status — снимок состояния для консоли оператора
type Status struct {
	RequestID string                 `json:"request_id"`
	State     GateState              `json:"state"`
	Risk      domain.RiskLevel       `json:"risk"`
	Preview   *domain.ChangePreview  `json:"preview"`
	Approvals []domain.ApprovalEvent `json:"approvals"`
	Needed    int                    `json:"approvals_needed"`
}

// Gate — блокирующий чекпойнт перед мутацией. Пайплайн висит в Await,
// решения приходят через Submit (напрямую или через Redis-подписку).
// Сила подтверждения растет с риском: low/moderate — одно ack, high —
// ack с echo сводки влияния, critical — два последовательных ack.
type Gate struct {
	mu      sync.Mutex
	pending map[string]*pendingChange

	timeout time.Duration
	logger  *zap.Logger
}

func NewGate(timeout time.Duration, logger *zap.Logger) *Gate {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Gate{
		pending: make(map[string]*pendingChange),
		timeout: timeout,
		logger:  logger.Named("gate"),
	}
}

// approvalsNeeded: critical требует двойного подтверждения
func approvalsNeeded(risk domain.RiskLevel) int {
	if risk == domain.RiskCritical {
		return 2
	}
	return 1
}

// Await блокирует до решения оператора, таймаута или отмены.
// Возвращает зафиксированные события одобрения (для журнала) и ошибку
// ErrConfirmationRejected / ErrConfirmationExpired на отказных путях.
// Отсутствие ответа — это отказ: по таймауту не применяется ничего.
func (g *Gate) Await(ctx context.Context, req *domain.ChangeRequest, preview *domain.ChangePreview) ([]domain.ApprovalEvent, error) {
	pc := &pendingChange{
		req:     req,
		preview: preview,
		state:   StatePending,
		done:    make(chan outcome, 1),
	}

	g.mu.Lock()
	if _, exists := g.pending[req.ID]; exists {
		g.mu.Unlock()
		return nil, domain.ErrAlreadyDecided
	}
	g.pending[req.ID] = pc
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.pending, req.ID)
		g.mu.Unlock()
	}()

	g.logger.Info("awaiting operator decision",
		zap.String("request_id", req.ID),
		zap.String("risk", string(preview.Risk)),
		zap.Int("approvals_needed", approvalsNeeded(preview.Risk)),
	)

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case out := <-pc.done:
		g.mu.Lock()
		approvals := append([]domain.ApprovalEvent(nil), pc.approvals...)
		g.mu.Unlock()
		return approvals, out.err

	case <-timer.C:
		g.mu.Lock()
		pc.state = StateExpired
		approvals := append([]domain.ApprovalEvent(nil), pc.approvals...)
		g.mu.Unlock()
		g.logger.Warn("confirmation window expired", zap.String("request_id", req.ID))
		return approvals, domain.ErrConfirmationExpired

	case <-ctx.Done():
		// Отмена pending-запроса бесплатна: мутаций еще не было
		g.mu.Lock()
		pc.state = StateRejected
		approvals := append([]domain.ApprovalEvent(nil), pc.approvals...)
		g.mu.Unlock()
		return approvals, fmt.Errorf("%w: cancelled while pending", domain.ErrConfirmationRejected)
	}
}

// Submit обрабатывает одно решение. Ошибка валидации (stale hash,
// пропущенный ack сводки) оставляет запрос в pending.
func (g *Gate) Submit(d Decision) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	pc, ok := g.pending[d.RequestID]
	if !ok || pc.state != StatePending {
		return fmt.Errorf("%w: no pending confirmation for request %s", domain.ErrAlreadyDecided, d.RequestID)
	}

	if d.PreviewHash != pc.preview.Hash {
		g.logger.Warn("stale preview approval attempt",
			zap.String("request_id", d.RequestID),
			zap.String("got", d.PreviewHash),
			zap.String("want", pc.preview.Hash),
		)
		return domain.ErrStalePreview
	}

	event := domain.ApprovalEvent{
		Reviewer:    d.Reviewer,
		Approved:    d.Approved,
		PreviewHash: d.PreviewHash,
		Comment:     d.Comment,
		At:          time.Now(),
	}

	if !d.Approved {
		pc.state = StateRejected
		pc.approvals = append(pc.approvals, event)
		pc.done <- outcome{state: StateRejected, err: domain.ErrConfirmationRejected}
		return nil
	}

	// high и critical обязаны вернуть echo сводки влияния
	if pc.preview.Risk.AtLeast(domain.RiskHigh) && !d.AckImpact {
		return domain.ErrImpactAckRequired
	}

	pc.approvals = append(pc.approvals, event)

	approved := 0
	for _, a := range pc.approvals {
		if a.Approved {
			approved++
		}
	}
	if approved >= approvalsNeeded(pc.preview.Risk) {
		pc.state = StateApproved
		pc.done <- outcome{state: StateApproved}
		return nil
	}

	g.logger.Info("first approval recorded, second acknowledgment required",
		zap.String("request_id", d.RequestID))
	return nil
}

// Snapshot — текущее состояние для оператора (GET в консоли)
func (g *Gate) Snapshot(requestID string) (*Status, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	pc, ok := g.pending[requestID]
	if !ok {
		return nil, false
	}
	return &Status{
		RequestID: requestID,
		State:     pc.state,
		Risk:      pc.preview.Risk,
		Preview:   pc.preview,
		Approvals: append([]domain.ApprovalEvent(nil), pc.approvals...),
		Needed:    approvalsNeeded(pc.preview.Risk),
	}, true
}

// Pending — очередь запросов, ожидающих решения (Decision Queue)
func (g *Gate) Pending() []Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Status, 0, len(g.pending))
	for id, pc := range g.pending {
		if pc.state != StatePending {
			continue
		}
		out = append(out, Status{
			RequestID: id,
			State:     pc.state,
			Risk:      pc.preview.Risk,
			Preview:   pc.preview,
			Approvals: append([]domain.ApprovalEvent(nil), pc.approvals...),
			Needed:    approvalsNeeded(pc.preview.Risk),
		})
	}
	return out
}
