// Package ratecheck compares a shipment's already-purchased label rate
// against the label provider's current candidate rates and records whether
// a cheaper compliant service exists.
package ratecheck

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/xrgarcia/jerky-shipping-sub001/internal/apperr"
	"github.com/xrgarcia/jerky-shipping-sub001/internal/telemetry"
	"github.com/xrgarcia/jerky-shipping-sub001/pkg/shipment"

	"github.com/go-logr/logr"
)

// Candidate is one rate option as the label provider reports it.
type Candidate struct {
	ServiceCode     string
	Cost            *float64 // nil when the provider didn't quote a numeric cost
	DeliveryDays    *int     // nil when the provider omitted an estimate
	WeightLimitMinOz *float64
	WeightLimitMaxOz *float64
}

// RateProvider fetches the current candidate rates for an external
// shipment id from the label provider.
type RateProvider interface {
	FetchCandidateRates(ctx context.Context, externalShipmentID string) ([]Candidate, error)
}

// FingerprintLookup resolves the weight and packaging decision attached to
// a fingerprint.
type FingerprintLookup interface {
	GetFingerprint(ctx context.Context, id uuid.UUID) (*shipment.Fingerprint, error)
	GetModel(ctx context.Context, fingerprintID uuid.UUID) (*shipment.FingerprintModel, error)
}

// Packaging is a packaging-type catalog row: the physical box/bag a
// fingerprint model assigns, with enough data to resolve a shippable
// package.
type Packaging struct {
	ID        uuid.UUID
	Name      string
	LengthIn  float64
	WidthIn   float64
	HeightIn  float64
}

// PackagingLookup resolves a packaging-type catalog row by id.
type PackagingLookup interface {
	GetPackaging(ctx context.Context, id uuid.UUID) (*Packaging, error)
}

// ShipmentLookup reads the shipment row and writes back its rate-check
// outcome.
type ShipmentLookup interface {
	GetShipment(ctx context.Context, id uuid.UUID) (*shipment.Shipment, error)
	SetRateCheckStatus(ctx context.Context, shipmentID uuid.UUID, status shipment.RateCheckStatus) error
}

// RateAnalysis is the upserted outcome of one analysis, keyed by the local
// shipment id (rate_analyses.shipment_id is unique) so re-running an
// analysis for the same shipment replaces the prior row instead of
// accumulating history. The external shipment id is stored on the row but
// is not the upsert key.
type RateAnalysis struct {
	ShipmentID           uuid.UUID
	ExternalShipmentID   string
	CustomerService      string
	CustomerCost         float64
	CustomerDeliveryDays int
	SmartService         string
	SmartCost            float64
	SmartDeliveryDays    int
	Savings              float64
	Reasoning            string
}

// AnalysisStore persists the outcome of an analysis.
type AnalysisStore interface {
	UpsertRateAnalysis(ctx context.Context, a RateAnalysis) error
}

// Config bounds which candidate services the engine will ever recommend
// switching to.
type Config struct {
	DisallowedServices []string
}

// Engine runs the sync/async eligibility gates and the rate-comparison
// algorithm.
type Engine struct {
	shipments    ShipmentLookup
	fingerprints FingerprintLookup
	packaging    PackagingLookup
	rates        RateProvider
	analysis     AnalysisStore
	disallow     map[string]bool
	log          logr.Logger
}

func NewEngine(shipments ShipmentLookup, fingerprints FingerprintLookup, packaging PackagingLookup, rates RateProvider, analysis AnalysisStore, cfg Config, log logr.Logger) *Engine {
	disallow := make(map[string]bool, len(cfg.DisallowedServices))
	for _, s := range cfg.DisallowedServices {
		disallow[strings.ToLower(s)] = true
	}
	return &Engine{
		shipments: shipments, fingerprints: fingerprints, packaging: packaging,
		rates: rates, analysis: analysis, disallow: disallow,
		log: log.WithValues("component", "ratecheck"),
	}
}

// SyncEligible reports whether the state machine may move a shipment into
// its rate-check trigger point: the fields a rate lookup needs are all
// present. It never touches the database beyond the row already in hand.
func SyncEligible(s *shipment.Shipment) (bool, string) {
	switch {
	case s.ExternalShipmentID == nil:
		return false, "missing external shipment id"
	case s.DestinationPostal == nil:
		return false, "missing destination postal code"
	case s.ServiceCode == nil:
		return false, "missing service code"
	case s.FingerprintID == nil:
		return false, "missing fingerprint id"
	case s.PackagingTypeID == nil:
		return false, "missing packaging type id"
	default:
		return true, ""
	}
}

// resolvedPackage is what the async gate produces once a fingerprint's
// weight and packaging dimensions are both on hand.
type resolvedPackage struct {
	weightOz float64
	length   float64
	width    float64
	height   float64
}

// asyncEligible additionally requires a positive fingerprint weight, a
// persisted packaging decision, and a resolvable packaging catalog row —
// the prerequisites for actually calling the label provider.
func (e *Engine) asyncEligible(ctx context.Context, s *shipment.Shipment) (*resolvedPackage, string, error) {
	fp, err := e.fingerprints.GetFingerprint(ctx, *s.FingerprintID)
	if err != nil {
		return nil, "", apperr.Wrap(err, apperr.Transient, "load fingerprint")
	}
	if fp == nil || fp.TotalWeight <= 0 {
		return nil, "fingerprint has no positive weight", nil
	}

	model, err := e.fingerprints.GetModel(ctx, fp.ID)
	if err != nil {
		return nil, "", apperr.Wrap(err, apperr.Transient, "load fingerprint model")
	}
	if model == nil {
		return nil, "fingerprint has no packaging model", nil
	}

	pkg, err := e.packaging.GetPackaging(ctx, model.PackagingTypeID)
	if err != nil {
		return nil, "", apperr.Wrap(err, apperr.Transient, "load packaging")
	}
	if pkg == nil {
		return nil, "packaging type not found in catalog", nil
	}

	return &resolvedPackage{
		weightOz: weightToOz(fp.TotalWeight, fp.WeightUnit),
		length:   pkg.LengthIn, width: pkg.WidthIn, height: pkg.HeightIn,
	}, "", nil
}

func weightToOz(v float64, unit string) float64 {
	switch strings.ToLower(unit) {
	case "oz", "":
		return v
	case "lb", "lbs":
		return v * 16
	case "g", "gram", "grams":
		return v / 28.3495
	case "kg":
		return v * 35.274
	default:
		return v
	}
}

// inferDeliveryDays estimates the customer's expected delivery window from
// the service code's name when the provider's quote omits delivery_days.
func inferDeliveryDays(serviceCode string) int {
	lower := strings.ToLower(serviceCode)
	switch {
	case strings.Contains(lower, "overnight"), strings.Contains(lower, "next_day"):
		return 1
	case strings.Contains(lower, "priority"), strings.Contains(lower, "2day"), strings.Contains(lower, "expedited"):
		return 2
	case strings.Contains(lower, "3day"):
		return 3
	default:
		return 5
	}
}

// AnalyzeAndSave runs the full sync/async gate plus the compare-and-select
// algorithm for one shipment, upserting a rateAnalysis row on success or
// marking the shipment skipped when no recommendation applies. The
// lifecycle worker's rate-check side effect is its only caller.
func (e *Engine) AnalyzeAndSave(ctx context.Context, shipmentID uuid.UUID) error {
	s, err := e.shipments.GetShipment(ctx, shipmentID)
	if err != nil {
		return apperr.Wrap(err, apperr.Transient, "load shipment")
	}
	if s == nil {
		return apperr.Newf(apperr.Deferred, "shipment %s not found", shipmentID)
	}

	if ok, reason := SyncEligible(s); !ok {
		return apperr.Newf(apperr.Deferred, "rate check not sync-eligible: %s", reason)
	}

	resolved, skipReason, err := e.asyncEligible(ctx, s)
	if err != nil {
		return err
	}
	if resolved == nil {
		return apperr.Newf(apperr.Deferred, "rate check not async-eligible: %s", skipReason)
	}

	if e.disallow[strings.ToLower(*s.ServiceCode)] {
		return e.skip(ctx, s, "customer service not allowed to change")
	}

	candidates, err := e.rates.FetchCandidateRates(ctx, *s.ExternalShipmentID)
	if err != nil {
		return apperr.Wrap(err, apperr.Transient, "fetch candidate rates")
	}

	var customer *Candidate
	for i := range candidates {
		if strings.EqualFold(candidates[i].ServiceCode, *s.ServiceCode) {
			customer = &candidates[i]
			break
		}
	}
	if customer == nil || customer.Cost == nil {
		return e.skip(ctx, s, "customer service not found among candidate rates")
	}
	customerCost := *customer.Cost
	customerDeliveryDays := inferDeliveryDays(*s.ServiceCode)
	if customer.DeliveryDays != nil {
		customerDeliveryDays = *customer.DeliveryDays
	}

	survivors := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Cost == nil {
			continue
		}
		days := inferDeliveryDays(c.ServiceCode)
		if c.DeliveryDays != nil {
			days = *c.DeliveryDays
		}
		if days > customerDeliveryDays {
			continue
		}
		if e.disallow[strings.ToLower(c.ServiceCode)] {
			continue
		}
		if c.WeightLimitMinOz != nil && resolved.weightOz < *c.WeightLimitMinOz {
			continue
		}
		if c.WeightLimitMaxOz != nil && resolved.weightOz > *c.WeightLimitMaxOz {
			continue
		}
		survivors = append(survivors, c)
	}
	if len(survivors) == 0 {
		return e.skip(ctx, s, "no cheaper compliant alternative found")
	}

	sort.Slice(survivors, func(i, j int) bool { return *survivors[i].Cost < *survivors[j].Cost })
	best := survivors[0]
	bestDays := inferDeliveryDays(best.ServiceCode)
	if best.DeliveryDays != nil {
		bestDays = *best.DeliveryDays
	}

	savings := customerCost - *best.Cost
	reasoning := fmt.Sprintf(
		"switched from %s ($%.2f, %dd) to %s ($%.2f, %dd), saving $%.2f",
		*s.ServiceCode, customerCost, customerDeliveryDays,
		best.ServiceCode, *best.Cost, bestDays, savings,
	)
	if strings.EqualFold(best.ServiceCode, *s.ServiceCode) {
		reasoning = "customer's choice is the most cost-effective option"
	}

	analysis := RateAnalysis{
		ShipmentID:           s.ID,
		ExternalShipmentID:   *s.ExternalShipmentID,
		CustomerService:      *s.ServiceCode,
		CustomerCost:         customerCost,
		CustomerDeliveryDays: customerDeliveryDays,
		SmartService:         best.ServiceCode,
		SmartCost:            *best.Cost,
		SmartDeliveryDays:    bestDays,
		Savings:              savings,
		Reasoning:            reasoning,
	}

	if err := e.analysis.UpsertRateAnalysis(ctx, analysis); err != nil {
		return apperr.Wrap(err, apperr.Transient, "upsert rate analysis")
	}
	if err := e.shipments.SetRateCheckStatus(ctx, s.ID, shipment.RateCheckComplete); err != nil {
		return apperr.Wrap(err, apperr.Transient, "set rate check status")
	}
	telemetry.RecordRateCheckOutcome("completed")
	telemetry.RecordRateCheckSavings(savings)
	return nil
}

func (e *Engine) skip(ctx context.Context, s *shipment.Shipment, reason string) error {
	e.log.Info("rate check skipped", "shipment", s.ID, "reason", reason)
	if err := e.shipments.SetRateCheckStatus(ctx, s.ID, shipment.RateCheckSkipped); err != nil {
		return apperr.Wrap(err, apperr.Transient, "set rate check status to skipped")
	}
	telemetry.RecordRateCheckOutcome("skipped")
	return nil
}
