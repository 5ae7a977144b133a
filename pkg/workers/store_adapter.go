package workers

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/xrgarcia/jerky-shipping-sub001/pkg/lifecycle"
	"github.com/xrgarcia/jerky-shipping-sub001/pkg/shipment"
)

// shipmentStore is the subset of *shipment.Store the adapters below need.
// pkg/shipment cannot import pkg/lifecycle or the workers package's own
// ExternalSession type (both import pkg/shipment already), so its store
// methods take plain strings and a shipment-local input struct; the
// adapters here do the typed conversion at the boundary.
type shipmentStore interface {
	GetShipment(ctx context.Context, id uuid.UUID) (*shipment.Shipment, error)
	UpdateLifecyclePhase(ctx context.Context, id uuid.UUID, phase string, subphase *string) error
	FindByOrderAndExternalID(ctx context.Context, orderNumber, externalShipmentID string) (*shipment.Shipment, error)
	HasQCItems(ctx context.Context, shipmentID uuid.UUID) (bool, error)
	ApplySessionFields(ctx context.Context, shipmentID uuid.UUID, in shipment.ExternalSessionInput) (bool, error)
	MarkSessionClosed(ctx context.Context, shipmentID uuid.UUID, pickEndedAt time.Time) error
	ShipmentsWithOpenSessionID(ctx context.Context) ([]shipment.Shipment, error)
}

// ShipmentRepoAdapter implements ShipmentRepo over *shipment.Store.
type ShipmentRepoAdapter struct {
	store shipmentStore
}

func NewShipmentRepoAdapter(store *shipment.Store) *ShipmentRepoAdapter {
	return &ShipmentRepoAdapter{store: store}
}

func (a *ShipmentRepoAdapter) GetShipment(ctx context.Context, id uuid.UUID) (*shipment.Shipment, error) {
	return a.store.GetShipment(ctx, id)
}

func (a *ShipmentRepoAdapter) UpdateLifecycle(ctx context.Context, id uuid.UUID, phase lifecycle.Phase, subphase *lifecycle.Subphase) error {
	var sub *string
	if subphase != nil {
		v := string(*subphase)
		sub = &v
	}
	return a.store.UpdateLifecyclePhase(ctx, id, string(phase), sub)
}

// SessionShipmentRepoAdapter implements SessionShipmentRepo over
// *shipment.Store.
type SessionShipmentRepoAdapter struct {
	store shipmentStore
}

func NewSessionShipmentRepoAdapter(store *shipment.Store) *SessionShipmentRepoAdapter {
	return &SessionShipmentRepoAdapter{store: store}
}

func (a *SessionShipmentRepoAdapter) FindByOrderAndExternalID(ctx context.Context, orderNumber, externalShipmentID string) (*shipment.Shipment, error) {
	return a.store.FindByOrderAndExternalID(ctx, orderNumber, externalShipmentID)
}

func (a *SessionShipmentRepoAdapter) HasQCItems(ctx context.Context, shipmentID uuid.UUID) (bool, error) {
	return a.store.HasQCItems(ctx, shipmentID)
}

func (a *SessionShipmentRepoAdapter) ApplySessionFields(ctx context.Context, shipmentID uuid.UUID, s ExternalSession) (bool, error) {
	return a.store.ApplySessionFields(ctx, shipmentID, shipment.ExternalSessionInput{
		SessionID: s.SessionID, SessionStatus: s.SessionStatus, OrderNumber: s.OrderNumber,
		ExternalShipmentID: s.ExternalShipmentID, PickStart: s.PickStart, PickEnd: s.PickEnd,
		SpotNumber: s.SpotNumber, PickerID: s.PickerID, PickerName: s.PickerName,
		DocumentID: s.DocumentID, UpdatedAt: s.UpdatedAt,
	})
}

func (a *SessionShipmentRepoAdapter) MarkSessionClosed(ctx context.Context, shipmentID uuid.UUID, pickEndedAt time.Time) error {
	return a.store.MarkSessionClosed(ctx, shipmentID, pickEndedAt)
}

func (a *SessionShipmentRepoAdapter) ShipmentsWithOpenSessionID(ctx context.Context) ([]shipment.Shipment, error) {
	return a.store.ShipmentsWithOpenSessionID(ctx)
}
