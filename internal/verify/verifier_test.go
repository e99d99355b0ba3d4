package verify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/netchange-gateway/internal/connectors"
	"github.com/xela07ax/netchange-gateway/internal/domain"
	"go.uber.org/zap"
)

func fixture(proposed domain.State, success bool) (*domain.ChangeRequest, *domain.ChangePreview, *domain.ChangeLogEntry) {
	req := domain.NewChangeRequest(domain.OriginInteractive, domain.OpUpdate, domain.KindSwitchPort,
		domain.TargetScope{NetworkID: "N_demo"}, proposed)
	req.TargetIDs = []string{"sw1/1"}

	p := &domain.ChangePreview{
		RequestID: req.ID,
		Targets: []domain.TargetPreview{
			{TargetID: "sw1/1", Current: domain.State{"vlan": 1}, Proposed: proposed},
		},
	}
	entry := &domain.ChangeLogEntry{
		ChangeID: "chg-test", RequestID: req.ID, Operation: req.Operation, Kind: req.Kind,
		Targets: []domain.TargetRecord{{TargetID: "sw1/1", Backup: domain.State{"vlan": 1}, Success: success}},
	}
	return req, p, entry
}

func TestVerifyConfirmsMatchingState(t *testing.T) {
	api := connectors.NewMockDeviceAPI()
	api.Seed(connectors.ResourceRef{Kind: domain.KindSwitchPort, TargetID: "sw1/1"},
		domain.State{"vlan": 100, "serial": "Q2XX-0001"})

	req, p, entry := fixture(domain.State{"vlan": 100}, true)
	New(api, zap.NewNop()).Verify(context.Background(), req, p, entry)

	rec := entry.Targets[0]
	require.NotNil(t, rec.Verified)
	assert.True(t, rec.Verified.MatchesExpected)
	// Поля, которых не было в предложенном, не сравниваются
	assert.Empty(t, rec.Verified.Mismatches)
	assert.Empty(t, entry.Warnings)
}

func TestVerifyRecordsMismatchAsWarning(t *testing.T) {
	api := connectors.NewMockDeviceAPI()
	api.Seed(connectors.ResourceRef{Kind: domain.KindSwitchPort, TargetID: "sw1/1"},
		domain.State{"vlan": 1})

	req, p, entry := fixture(domain.State{"vlan": 100}, true)
	entry.Status = domain.StatusSuccess
	New(api, zap.NewNop()).Verify(context.Background(), req, p, entry)

	rec := entry.Targets[0]
	require.NotNil(t, rec.Verified)
	assert.False(t, rec.Verified.MatchesExpected)
	require.Len(t, rec.Verified.Mismatches, 1)
	assert.Equal(t, "vlan", rec.Verified.Mismatches[0].Field)

	// Расхождение не переписывает статус: мутация уже применена
	assert.Equal(t, domain.StatusSuccess, entry.Status)
	require.Len(t, entry.Warnings, 1)
	assert.Equal(t, "verify_mismatch", entry.Warnings[0].Code)
}

func TestVerifyTreats404AsConfirmedDelete(t *testing.T) {
	api := connectors.NewMockDeviceAPI() // Ресурс отсутствует

	req, p, entry := fixture(domain.State{}, true)
	New(api, zap.NewNop()).Verify(context.Background(), req, p, entry)

	rec := entry.Targets[0]
	require.NotNil(t, rec.Verified)
	assert.True(t, rec.Verified.MatchesExpected)
	assert.Empty(t, entry.Warnings)
}

func TestVerifyReadFailureWarnsWithoutFailing(t *testing.T) {
	api := connectors.NewMockDeviceAPI() // Read вернет 404, а proposed непустой

	req, p, entry := fixture(domain.State{"vlan": 100}, true)
	New(api, zap.NewNop()).Verify(context.Background(), req, p, entry)

	rec := entry.Targets[0]
	require.NotNil(t, rec.Verified)
	assert.False(t, rec.Verified.MatchesExpected)
	require.Len(t, entry.Warnings, 1)
	assert.Equal(t, "verify_read_failed", entry.Warnings[0].Code)
}

func TestVerifySkipsFailedTargets(t *testing.T) {
	api := connectors.NewMockDeviceAPI()

	req, p, entry := fixture(domain.State{"vlan": 100}, false)
	New(api, zap.NewNop()).Verify(context.Background(), req, p, entry)

	assert.Nil(t, entry.Targets[0].Verified)
	assert.Empty(t, entry.Warnings)
}
