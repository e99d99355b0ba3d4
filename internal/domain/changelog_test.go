package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func record(id string, success bool, backup State) TargetRecord {
	return TargetRecord{TargetID: id, Backup: backup, Success: success}
}

func TestFinalizeStatus(t *testing.T) {
	cases := []struct {
		name    string
		targets []TargetRecord
		want    ResultStatus
	}{
		{"all success", []TargetRecord{
			record("t1", true, State{"a": 1}),
			record("t2", true, State{"a": 1}),
		}, StatusSuccess},
		{"all failed", []TargetRecord{
			record("t1", false, State{"a": 1}),
		}, StatusFailed},
		{"mixed stays partial", []TargetRecord{
			record("t1", true, State{"a": 1}),
			record("t2", false, State{"a": 1}),
			record("t3", true, State{"a": 1}),
		}, StatusPartialSuccess},
		{"no targets", nil, StatusFailed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := &ChangeLogEntry{Targets: tc.targets}
			e.FinalizeStatus()
			assert.Equal(t, tc.want, e.Status)
		})
	}
}

func TestRefreshRollbackAvailability(t *testing.T) {
	cases := []struct {
		name  string
		kind  ResourceKind
		op    OperationKind
		entry ChangeLogEntry
		want  bool
	}{
		{
			name: "update with backups",
			kind: KindSwitchPort, op: OpUpdate,
			entry: ChangeLogEntry{
				Status:  StatusSuccess,
				Targets: []TargetRecord{record("t1", true, State{"vlan": 1})},
			},
			want: true,
		},
		{
			name: "partial success keeps rollback",
			kind: KindSwitchPort, op: OpUpdate,
			entry: ChangeLogEntry{
				Status: StatusPartialSuccess,
				Targets: []TargetRecord{
					record("t1", true, State{"vlan": 1}),
					record("t2", false, State{"vlan": 1}),
				},
			},
			want: true,
		},
		{
			name: "missing backup blocks rollback",
			kind: KindSwitchPort, op: OpUpdate,
			entry: ChangeLogEntry{
				Status: StatusSuccess,
				Targets: []TargetRecord{
					record("t1", true, State{"vlan": 1}),
					record("t2", true, nil),
				},
			},
			want: false,
		},
		{
			name: "deleted vlan is not restorable",
			kind: KindVLAN, op: OpDelete,
			entry: ChangeLogEntry{
				Status:  StatusSuccess,
				Targets: []TargetRecord{record("t1", true, State{"name": "Guest"})},
			},
			want: false,
		},
		{
			name: "failed run has nothing to roll back",
			kind: KindSwitchPort, op: OpUpdate,
			entry: ChangeLogEntry{
				Status:  StatusFailed,
				Targets: []TargetRecord{record("t1", false, State{"vlan": 1})},
			},
			want: false,
		},
		{
			name: "unknown kind",
			kind: "static_route", op: OpUpdate,
			entry: ChangeLogEntry{
				Status:  StatusSuccess,
				Targets: []TargetRecord{record("t1", true, State{"a": 1})},
			},
			want: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := tc.entry
			e.Kind = tc.kind
			e.Operation = tc.op
			e.RefreshRollbackAvailability()
			assert.Equal(t, tc.want, e.Rollback.Available)
		})
	}
}

func TestRiskEscalation(t *testing.T) {
	assert.Equal(t, RiskHigh, RiskModerate.Escalate(RiskHigh))
	// Риск не понижается
	assert.Equal(t, RiskCritical, RiskCritical.Escalate(RiskModerate))
	assert.True(t, RiskCritical.AtLeast(RiskHigh))
	assert.False(t, RiskModerate.AtLeast(RiskHigh))
}

func TestStateCloneIsolation(t *testing.T) {
	src := State{
		"name": "Office",
		"rule": map[string]interface{}{"policy": "allow"},
		"rules": []interface{}{
			map[string]interface{}{"policy": "deny"},
		},
	}
	c := src.Clone()

	c["name"] = "Guest"
	c["rule"].(map[string]interface{})["policy"] = "deny"
	c["rules"].([]interface{})[0].(map[string]interface{})["policy"] = "allow"

	assert.Equal(t, "Office", src["name"])
	assert.Equal(t, "allow", src["rule"].(map[string]interface{})["policy"])
	assert.Equal(t, "deny", src["rules"].([]interface{})[0].(map[string]interface{})["policy"])

	assert.Nil(t, State(nil).Clone())
}

func TestKindStrategyRestorable(t *testing.T) {
	vlan, ok := StrategyFor(KindVLAN)
	assert.True(t, ok)
	assert.True(t, vlan.Restorable(OpUpdate))
	assert.False(t, vlan.Restorable(OpDelete))
	// Откат отката идет по механике update
	assert.True(t, vlan.Restorable(OpRollback))

	_, ok = StrategyFor("static_route")
	assert.False(t, ok)
}
