package lifecycle_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/xrgarcia/jerky-shipping-sub001/pkg/lifecycle"
	"github.com/xrgarcia/jerky-shipping-sub001/pkg/shipment"
)

func sessionStatus(v shipment.SessionStatus) *shipment.SessionStatus { return &v }
func str(v string) *string                                          { return &v }
func fpStatus(v shipment.FingerprintStatus) *shipment.FingerprintStatus { return &v }

func TestDerive_Priority(t *testing.T) {
	tests := []struct {
		name string
		s    *shipment.Shipment
		want lifecycle.Phase
	}{
		{
			name: "tracking number always wins, ON_DOCK",
			s:    &shipment.Shipment{TrackingNumber: str("1Z999")},
			want: lifecycle.PhaseOnDock,
		},
		{
			name: "inactive session is picking issues",
			s:    &shipment.Shipment{SessionStatus: sessionStatus(shipment.SessionInactive)},
			want: lifecycle.PhasePickingIssues,
		},
		{
			name: "closed + pending is packing ready (strict rule)",
			s: &shipment.Shipment{
				SessionStatus:  sessionStatus(shipment.SessionClosed),
				ExternalStatus: shipment.StatusPending,
			},
			want: lifecycle.PhasePackingReady,
		},
		{
			name: "closed alone is packing ready (loose fallback)",
			s: &shipment.Shipment{
				SessionStatus:  sessionStatus(shipment.SessionClosed),
				ExternalStatus: shipment.StatusLabelPurchased,
			},
			want: lifecycle.PhasePackingReady,
		},
		{
			name: "active session is picking",
			s:    &shipment.Shipment{SessionStatus: sessionStatus(shipment.SessionActive)},
			want: lifecycle.PhasePicking,
		},
		{
			name: "new session is ready to pick",
			s:    &shipment.Shipment{SessionStatus: sessionStatus(shipment.SessionNew)},
			want: lifecycle.PhaseReadyToPick,
		},
		{
			name: "on_hold + move-over + no session is ready to session",
			s: &shipment.Shipment{
				ExternalStatus: shipment.StatusOnHold,
				HasMoveOverTag: true,
			},
			want: lifecycle.PhaseReadyToSession,
		},
		{
			name: "cancelled with move-over tag falls through to awaiting decisions",
			s: &shipment.Shipment{
				ExternalStatus: shipment.StatusCancelled,
				HasMoveOverTag: true,
			},
			want: lifecycle.PhaseAwaitingDecisions,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := lifecycle.Derive(tt.s)
			assert.Equal(t, tt.want, got.Phase)
		})
	}
}

func TestDerive_DecisionSubphaseLadder(t *testing.T) {
	complete := shipment.FingerprintComplete
	fpID := uuid.New()
	pkgID := uuid.New()
	sessID := uuid.New()

	tests := []struct {
		name string
		s    *shipment.Shipment
		want lifecycle.Subphase
	}{
		{"nothing set", &shipment.Shipment{}, lifecycle.SubphaseNeedsCategorization},
		{
			"fingerprint status complete but no id",
			&shipment.Shipment{FingerprintStatus: &complete},
			lifecycle.SubphaseNeedsFingerprint,
		},
		{
			"has fingerprint, no packaging",
			&shipment.Shipment{FingerprintID: &fpID},
			lifecycle.SubphaseNeedsPackaging,
		},
		{
			"has packaging, no session",
			&shipment.Shipment{FingerprintID: &fpID, PackagingTypeID: &pkgID},
			lifecycle.SubphaseNeedsSession,
		},
		{
			"has session id, no session status yet",
			&shipment.Shipment{FulfillmentSessionID: &sessID},
			lifecycle.SubphaseReadyForSKUVault,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := lifecycle.Derive(tt.s)
			assert.Equal(t, lifecycle.PhaseAwaitingDecisions, got.Phase)
			if assert.NotNil(t, got.Subphase) {
				assert.Equal(t, tt.want, *got.Subphase)
			}
		})
	}
}

func TestIsAllowedTransition(t *testing.T) {
	assert.True(t, lifecycle.IsAllowedTransition(lifecycle.PhaseReadyToPick, lifecycle.PhasePicking))
	assert.True(t, lifecycle.IsAllowedTransition(lifecycle.PhaseOnDock, lifecycle.PhaseOnDock))
	assert.False(t, lifecycle.IsAllowedTransition(lifecycle.PhaseOnDock, lifecycle.PhaseReadyToPick))
}

func TestIsModifiable(t *testing.T) {
	assert.True(t, lifecycle.IsModifiable(lifecycle.PhaseReadyToSession))
	assert.True(t, lifecycle.IsModifiable(lifecycle.PhaseAwaitingDecisions))
	assert.False(t, lifecycle.IsModifiable(lifecycle.PhasePicking))
	assert.False(t, lifecycle.IsModifiable(lifecycle.PhaseOnDock))
}

func TestProgress_Monotone(t *testing.T) {
	order := []lifecycle.Phase{
		lifecycle.PhaseReadyToSession,
		lifecycle.PhaseReadyToPick,
		lifecycle.PhasePicking,
		lifecycle.PhasePackingReady,
		lifecycle.PhaseOnDock,
	}
	last := -1
	for _, p := range order {
		got := lifecycle.Progress(lifecycle.State{Phase: p})
		assert.GreaterOrEqual(t, got, last)
		last = got
	}
}
