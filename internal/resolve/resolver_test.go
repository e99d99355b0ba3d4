package resolve

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/netchange-gateway/internal/connectors"
	"github.com/xela07ax/netchange-gateway/internal/domain"
	"go.uber.org/zap"
)

type staticDirectory map[domain.ResourceKind][]string

func (d staticDirectory) ExpandScope(_ context.Context, kind domain.ResourceKind, _ domain.TargetScope) ([]string, error) {
	return d[kind], nil
}

type lockChecker struct {
	locked map[string]string // target -> причина
	errOn  string
}

func (c lockChecker) IsWritable(_ context.Context, ref connectors.ResourceRef) (bool, string, error) {
	if ref.TargetID == c.errOn {
		return false, "", errors.New("capability service timeout")
	}
	if reason, ok := c.locked[ref.TargetID]; ok {
		return false, reason, nil
	}
	return true, "", nil
}

func portRequest(targets ...string) *domain.ChangeRequest {
	req := domain.NewChangeRequest(domain.OriginInteractive, domain.OpUpdate, domain.KindSwitchPort,
		domain.TargetScope{NetworkID: "N_demo", Description: "все аплинки"}, domain.State{"vlan": 100})
	req.TargetIDs = targets
	return req
}

func TestResolveExpandsScope(t *testing.T) {
	dir := staticDirectory{domain.KindSwitchPort: {"sw2/1", "sw1/1", "sw3/1"}}
	r := NewResolver(dir, lockChecker{}, zap.NewNop())

	req := portRequest()
	warnings, err := r.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	// Порядок стабильный независимо от ответа каталога
	assert.Equal(t, []string{"sw1/1", "sw2/1", "sw3/1"}, req.TargetIDs)
}

func TestResolveExcludesLockedTargetWithWarning(t *testing.T) {
	r := NewResolver(staticDirectory{}, lockChecker{
		locked: map[string]string{"sw2/1": "read-only lock"},
	}, zap.NewNop())

	req := portRequest("sw1/1", "sw2/1")
	warnings, err := r.Resolve(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, []string{"sw1/1"}, req.TargetIDs)
	require.Len(t, warnings, 1)
	assert.Equal(t, "target_excluded", warnings[0].Code)
	assert.Equal(t, "sw2/1", warnings[0].TargetID)
}

func TestResolveFailsWhenAllTargetsLocked(t *testing.T) {
	r := NewResolver(staticDirectory{}, lockChecker{
		locked: map[string]string{"sw1/1": "locked", "sw2/1": "locked"},
	}, zap.NewNop())

	req := portRequest("sw1/1", "sw2/1")
	_, err := r.Resolve(context.Background(), req)

	var tErr *domain.TargetResolutionError
	require.ErrorAs(t, err, &tErr)
}

func TestResolveCheckerErrorDegradesToLocked(t *testing.T) {
	r := NewResolver(staticDirectory{}, lockChecker{errOn: "sw2/1"}, zap.NewNop())

	req := portRequest("sw1/1", "sw2/1")
	warnings, err := r.Resolve(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, []string{"sw1/1"}, req.TargetIDs)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Message, "capability check error")
}

func TestResolveZeroMatches(t *testing.T) {
	r := NewResolver(staticDirectory{}, lockChecker{}, zap.NewNop())

	req := portRequest()
	_, err := r.Resolve(context.Background(), req)

	var tErr *domain.TargetResolutionError
	require.ErrorAs(t, err, &tErr)
}

func TestResolveUnknownKind(t *testing.T) {
	r := NewResolver(staticDirectory{}, lockChecker{}, zap.NewNop())

	req := domain.NewChangeRequest(domain.OriginInteractive, domain.OpUpdate, "static_route",
		domain.TargetScope{NetworkID: "N_demo"}, domain.State{})

	_, err := r.Resolve(context.Background(), req)
	var tErr *domain.TargetResolutionError
	require.ErrorAs(t, err, &tErr)
}
