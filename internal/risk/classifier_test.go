package risk

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/xela07ax/netchange-gateway/internal/domain"
	"go.uber.org/zap"
)

func request(op domain.OperationKind, kind domain.ResourceKind, targets int) *domain.ChangeRequest {
	req := domain.NewChangeRequest(domain.OriginInteractive, op, kind,
		domain.TargetScope{NetworkID: "N_demo"}, domain.State{})
	for i := 0; i < targets; i++ {
		req.TargetIDs = append(req.TargetIDs, fmt.Sprintf("t%d", i))
	}
	return req
}

func TestClassifyBaseTable(t *testing.T) {
	c := NewClassifier(10, zap.NewNop())

	cases := []struct {
		op   domain.OperationKind
		kind domain.ResourceKind
		want domain.RiskLevel
	}{
		{domain.OpUpdate, domain.KindSSID, domain.RiskModerate},
		{domain.OpDelete, domain.KindSSID, domain.RiskHigh},
		{domain.OpCreate, domain.KindFirewallRule, domain.RiskHigh},
		{domain.OpUpdate, domain.KindSwitchACL, domain.RiskHigh},
		{domain.OpDelete, domain.KindVLAN, domain.RiskHigh},
		{domain.OpUpdate, domain.KindAlertSettings, domain.RiskModerate},
		{domain.OpRollback, domain.KindSwitchPort, domain.RiskHigh},
	}
	for _, tc := range cases {
		got := c.Classify(request(tc.op, tc.kind, 1))
		assert.Equal(t, tc.want, got, "%s %s", tc.op, tc.kind)
	}
}

func TestClassifyUnknownKindIsHigh(t *testing.T) {
	c := NewClassifier(10, zap.NewNop())
	assert.Equal(t, domain.RiskHigh, c.Classify(request(domain.OpUpdate, "static_route", 1)))
}

func TestClassifyDenyAllIsCritical(t *testing.T) {
	c := NewClassifier(10, zap.NewNop())

	req := request(domain.OpCreate, domain.KindFirewallRule, 1)
	req.Params = domain.State{
		"rule": map[string]interface{}{"policy": "deny", "srcCidr": "any", "destCidr": "any"},
	}
	assert.Equal(t, domain.RiskCritical, c.Classify(req))
}

func TestClassifyScopedDenyIsNotCritical(t *testing.T) {
	c := NewClassifier(10, zap.NewNop())

	req := request(domain.OpCreate, domain.KindFirewallRule, 1)
	req.Params = domain.State{
		"rule": map[string]interface{}{
			"policy": "deny", "protocol": "tcp", "destPort": "23", "srcCidr": "any", "destCidr": "any",
		},
	}
	assert.Equal(t, domain.RiskHigh, c.Classify(req))
}

func TestClassifyBatchThresholdEscalates(t *testing.T) {
	c := NewClassifier(10, zap.NewNop())

	// 10 целей — еще в пороге
	assert.Equal(t, domain.RiskModerate, c.Classify(request(domain.OpUpdate, domain.KindSwitchPort, 10)))
	// 11 целей — ступень вверх
	assert.Equal(t, domain.RiskHigh, c.Classify(request(domain.OpUpdate, domain.KindSwitchPort, 11)))
	// high становится critical
	assert.Equal(t, domain.RiskCritical, c.Classify(request(domain.OpUpdate, domain.KindFirewallRule, 11)))
}

func TestIsDenyAllRule(t *testing.T) {
	assert.True(t, IsDenyAllRule(map[string]interface{}{"policy": "deny", "srcCidr": "any", "destCidr": "any"}))
	assert.True(t, IsDenyAllRule(map[string]interface{}{"policy": "deny"}))
	assert.False(t, IsDenyAllRule(map[string]interface{}{"policy": "allow", "srcCidr": "any", "destCidr": "any"}))
	assert.False(t, IsDenyAllRule(map[string]interface{}{"policy": "deny", "protocol": "tcp", "destPort": "23"}))
	assert.False(t, IsDenyAllRule(map[string]interface{}{"policy": "deny", "srcCidr": "10.0.0.0/8"}))
}
