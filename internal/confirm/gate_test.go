package confirm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/netchange-gateway/internal/domain"
	"go.uber.org/zap"
)

func pendingRequest(risk domain.RiskLevel) (*domain.ChangeRequest, *domain.ChangePreview) {
	req := domain.NewChangeRequest(domain.OriginInteractive, domain.OpUpdate, domain.KindSSID,
		domain.TargetScope{NetworkID: "N_demo"}, domain.State{"enabled": true})
	req.TargetIDs = []string{"N_demo/0"}
	p := &domain.ChangePreview{RequestID: req.ID, Risk: risk, Hash: "deadbeefcafe0001"}
	return req, p
}

type awaitResult struct {
	approvals []domain.ApprovalEvent
	err       error
}

func startAwait(g *Gate, req *domain.ChangeRequest, p *domain.ChangePreview) chan awaitResult {
	ch := make(chan awaitResult, 1)
	go func() {
		a, err := g.Await(context.Background(), req, p)
		ch <- awaitResult{a, err}
	}()
	// Даем Await зарегистрировать запрос
	for i := 0; i < 100; i++ {
		if _, ok := g.Snapshot(req.ID); ok {
			break
		}
		time.Sleep(time.Millisecond)
	}
	return ch
}

func TestGateExpiresWithoutDecision(t *testing.T) {
	g := NewGate(50*time.Millisecond, zap.NewNop())
	req, p := pendingRequest(domain.RiskModerate)

	ch := startAwait(g, req, p)
	res := <-ch
	require.ErrorIs(t, res.err, domain.ErrConfirmationExpired)
	assert.Empty(t, res.approvals)
}

func TestGateRejection(t *testing.T) {
	g := NewGate(time.Minute, zap.NewNop())
	req, p := pendingRequest(domain.RiskModerate)

	ch := startAwait(g, req, p)
	require.NoError(t, g.Submit(Decision{
		RequestID: req.ID, Reviewer: "op-1", Approved: false, PreviewHash: p.Hash,
	}))

	res := <-ch
	require.ErrorIs(t, res.err, domain.ErrConfirmationRejected)
	require.Len(t, res.approvals, 1)
	assert.False(t, res.approvals[0].Approved)
}

func TestGateRejectsStalePreviewHash(t *testing.T) {
	g := NewGate(time.Minute, zap.NewNop())
	req, p := pendingRequest(domain.RiskModerate)

	ch := startAwait(g, req, p)

	err := g.Submit(Decision{
		RequestID: req.ID, Reviewer: "op-1", Approved: true, PreviewHash: "stale0000000000",
	})
	require.ErrorIs(t, err, domain.ErrStalePreview)

	// Запрос остался pending: корректное решение все еще проходит
	st, ok := g.Snapshot(req.ID)
	require.True(t, ok)
	assert.Equal(t, StatePending, st.State)

	require.NoError(t, g.Submit(Decision{
		RequestID: req.ID, Reviewer: "op-1", Approved: true, PreviewHash: p.Hash,
	}))
	res := <-ch
	require.NoError(t, res.err)
}

func TestGateHighRiskRequiresImpactAck(t *testing.T) {
	g := NewGate(time.Minute, zap.NewNop())
	req, p := pendingRequest(domain.RiskHigh)

	ch := startAwait(g, req, p)

	err := g.Submit(Decision{
		RequestID: req.ID, Reviewer: "op-1", Approved: true, PreviewHash: p.Hash,
	})
	require.ErrorIs(t, err, domain.ErrImpactAckRequired)

	require.NoError(t, g.Submit(Decision{
		RequestID: req.ID, Reviewer: "op-1", Approved: true, PreviewHash: p.Hash, AckImpact: true,
	}))
	res := <-ch
	require.NoError(t, res.err)
}

func TestGateCriticalNeedsTwoApprovals(t *testing.T) {
	g := NewGate(time.Minute, zap.NewNop())
	req, p := pendingRequest(domain.RiskCritical)

	ch := startAwait(g, req, p)

	require.NoError(t, g.Submit(Decision{
		RequestID: req.ID, Reviewer: "op-1", Approved: true, PreviewHash: p.Hash, AckImpact: true,
	}))

	// Одного подтверждения мало: прогон все еще ждет
	select {
	case <-ch:
		t.Fatal("await returned after a single approval of a critical change")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, g.Submit(Decision{
		RequestID: req.ID, Reviewer: "op-2", Approved: true, PreviewHash: p.Hash, AckImpact: true,
	}))

	res := <-ch
	require.NoError(t, res.err)
	require.Len(t, res.approvals, 2)
}

func TestGateUnknownRequest(t *testing.T) {
	g := NewGate(time.Minute, zap.NewNop())
	err := g.Submit(Decision{RequestID: "missing", Approved: true, PreviewHash: "x"})
	require.ErrorIs(t, err, domain.ErrAlreadyDecided)
}

func TestGateCancelledContextCountsAsRejection(t *testing.T) {
	g := NewGate(time.Minute, zap.NewNop())
	req, p := pendingRequest(domain.RiskModerate)

	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan awaitResult, 1)
	go func() {
		a, err := g.Await(ctx, req, p)
		ch <- awaitResult{a, err}
	}()
	for i := 0; i < 100; i++ {
		if _, ok := g.Snapshot(req.ID); ok {
			break
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	res := <-ch
	require.ErrorIs(t, res.err, domain.ErrConfirmationRejected)
}
