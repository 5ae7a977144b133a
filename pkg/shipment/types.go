// Package shipment holds the central aggregate of the fulfillment core and
// its owned entities: purchased line items, post-explosion QC items,
// fingerprints, fingerprint models, and fulfillment sessions. Types here
// are the strongly-typed row model shared across persistence and the
// domain packages; pkg/lifecycle, pkg/fingerprint, pkg/ratecheck, and
// pkg/session all operate on *Shipment and its siblings.
package shipment

import (
	"time"

	"github.com/google/uuid"
)

// ExternalShipmentStatus is the status reported by the label provider.
type ExternalShipmentStatus string

const (
	StatusOnHold         ExternalShipmentStatus = "on_hold"
	StatusPending        ExternalShipmentStatus = "pending"
	StatusLabelPending   ExternalShipmentStatus = "label_pending"
	StatusLabelPurchased ExternalShipmentStatus = "label_purchased"
	StatusCancelled      ExternalShipmentStatus = "cancelled"
)

// SessionStatus mirrors the document store's session_status field,
// lowercased on ingest.
type SessionStatus string

const (
	SessionNew      SessionStatus = "new"
	SessionActive   SessionStatus = "active"
	SessionInactive SessionStatus = "inactive"
	SessionClosed   SessionStatus = "closed"
)

// RateCheckStatus tracks where a shipment is in the rate-check engine.
type RateCheckStatus string

const (
	RateCheckNone     RateCheckStatus = "none"
	RateCheckPending  RateCheckStatus = "pending"
	RateCheckComplete RateCheckStatus = "complete"
	RateCheckSkipped  RateCheckStatus = "skipped"
	RateCheckFailed   RateCheckStatus = "failed"
)

// FingerprintStatus tracks where a shipment is in the fingerprint engine,
// independent of its lifecycle phase.
type FingerprintStatus string

const (
	FingerprintNeedsRecalc          FingerprintStatus = "needs_recalc"
	FingerprintPendingCategorization FingerprintStatus = "pending_categorization"
	FingerprintMissingWeight        FingerprintStatus = "missing_weight"
	FingerprintComplete             FingerprintStatus = "complete"
)

// Shipment is the central aggregate.
type Shipment struct {
	ID                   uuid.UUID
	ExternalShipmentID   *string
	ExternalOrderNumber  string
	Carrier              *string
	ServiceCode          *string
	DestinationPostal    *string
	DestinationState     *string
	TrackingNumber       *string
	ExternalStatus       ExternalShipmentStatus
	DeliveryStatusCode   *string
	SessionStatus        *SessionStatus
	LifecyclePhase       string
	DecisionSubphase     *string
	FingerprintID        *uuid.UUID
	FingerprintStatus    *FingerprintStatus
	PackagingTypeID      *uuid.UUID
	StationID            *uuid.UUID
	FulfillmentSessionID *uuid.UUID
	SmartSessionSpot     *int
	RateCheckStatus      RateCheckStatus
	ProactiveHydration   bool
	HasMoveOverTag       bool

	ExternalSessionID *string
	DocumentID        *string
	PickerID          *string
	PickerName        *string

	PickStartedAt *time.Time
	PickEndedAt   *time.Time
	ShippedAt     *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsCancelled reports the one boolean the lifecycle state machine needs
// from ExternalStatus besides equality checks.
func (s *Shipment) IsCancelled() bool {
	return s.ExternalStatus == StatusCancelled
}

// ShipmentItem is a purchased line item exactly as it came from the
// storefront.
type ShipmentItem struct {
	ID         uuid.UUID
	ShipmentID uuid.UUID
	SKU        string
	Quantity   int
	UnitPrice  float64
}

// QCItem is the post-explosion scannable line item.
type QCItem struct {
	ID            uuid.UUID
	ShipmentID    uuid.UUID
	SKU           string
	Barcode       *string
	ImageURL      *string
	ExpectedQty   int
	ParentSKU     *string // set when this item was exploded from a kit
	IsKitComponent bool
	CollectionID  *string
	UnitWeight    *float64
	WeightUnit    *string
	Location      *string
	VariantSKU    *string // audit reference when substituted from a variant
}

// Fingerprint is the canonical packaging signature.
type Fingerprint struct {
	ID             uuid.UUID
	SignatureHash  string // 32 hex chars, first 16 bytes of SHA-256(signature)
	Signature      string // canonical JSON
	DisplayName    string
	ItemCount      int
	TotalWeight    float64
	WeightUnit     string
	CreatedAt      time.Time
}

// FingerprintModel is the persistent packaging decision attached to a
// fingerprint.
type FingerprintModel struct {
	ID              uuid.UUID
	FingerprintID   uuid.UUID
	PackagingTypeID uuid.UUID
	CreatedAt       time.Time
}

// StationType enumerates the priority table used by the session batcher
// for session batching.
type StationType string

const (
	StationBoxingMachine StationType = "boxing_machine"
	StationPolyBag       StationType = "poly_bag"
	StationHandPack      StationType = "hand_pack"
)

// StationTypePriority returns the batcher's sort priority; unlisted
// station-types sort last.
func StationTypePriority(t StationType) int {
	switch t {
	case StationBoxingMachine:
		return 1
	case StationPolyBag:
		return 2
	case StationHandPack:
		return 3
	default:
		return 99
	}
}

// SessionState is the fulfillment session's status column.
type SessionState string

const (
	SessionDraft     SessionState = "draft"
	SessionReady     SessionState = "ready"
	SessionPicking   SessionState = "picking"
	SessionPacking   SessionState = "packing"
	SessionCompleted SessionState = "completed"
)

// FulfillmentSession is the physical cart/batch shipments are assigned to.
type FulfillmentSession struct {
	ID          uuid.UUID
	StationType StationType
	StationID   uuid.UUID
	OrderCount  int
	MaxOrders   int
	Status      SessionState
	SequenceNum int
	DaySeq      string // date-scoped key the sequence number is unique within

	ReadyAt     *time.Time
	PickingAt   *time.Time
	PackingAt   *time.Time
	CompletedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}
