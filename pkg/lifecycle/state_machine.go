// Package lifecycle is the pure, side-effect-free derivation of a
// shipment's (phase, subphase) from its fields, plus the explicit
// transition edge sets that gate what the lifecycle event worker is
// allowed to persist.
package lifecycle

import "github.com/xrgarcia/jerky-shipping-sub001/pkg/shipment"

// Phase is one of the seven top-level lifecycle phases, ordered by the
// priority they're assigned (ON_DOCK highest).
type Phase string

const (
	PhaseOnDock           Phase = "ON_DOCK"
	PhasePickingIssues    Phase = "PICKING_ISSUES"
	PhasePackingReady     Phase = "PACKING_READY"
	PhasePicking          Phase = "PICKING"
	PhaseReadyToPick      Phase = "READY_TO_PICK"
	PhaseReadyToSession   Phase = "READY_TO_SESSION"
	PhaseAwaitingDecisions Phase = "AWAITING_DECISIONS"
)

// Subphase further divides PhaseAwaitingDecisions (and, for batcher
// discoverability, PhaseReadyToSession).
type Subphase string

const (
	SubphaseReadyForSKUVault   Subphase = "READY_FOR_SKUVAULT"
	SubphaseNeedsSession       Subphase = "NEEDS_SESSION"
	SubphaseNeedsPackaging     Subphase = "NEEDS_PACKAGING"
	SubphaseNeedsFingerprint   Subphase = "NEEDS_FINGERPRINT"
	SubphaseNeedsCategorization Subphase = "NEEDS_CATEGORIZATION"
)

// State is the derived result: a phase and, where applicable, a subphase.
type State struct {
	Phase    Phase
	Subphase *Subphase
}

func (s State) Equal(other State) bool {
	if s.Phase != other.Phase {
		return false
	}
	if (s.Subphase == nil) != (other.Subphase == nil) {
		return false
	}
	if s.Subphase != nil && *s.Subphase != *other.Subphase {
		return false
	}
	return true
}

// Derive computes (phase, subphase) from the shipment's current fields.
// It never mutates s and never performs I/O.
func Derive(s *shipment.Shipment) State {
	if s.TrackingNumber != nil && *s.TrackingNumber != "" {
		return State{Phase: PhaseOnDock}
	}

	status := sessionStatus(s)

	if status == shipment.SessionInactive {
		return State{Phase: PhasePickingIssues}
	}

	if status == shipment.SessionClosed {
		// Strict rule (closed ∧ pending) and loose fallback (closed alone)
		// both resolve to PACKING_READY, so there's nothing left to branch
		// on here.
		return State{Phase: PhasePackingReady}
	}

	if status == shipment.SessionActive {
		return State{Phase: PhasePicking}
	}

	if status == shipment.SessionNew {
		return State{Phase: PhaseReadyToPick}
	}

	if s.ExternalStatus == shipment.StatusOnHold && s.HasMoveOverTag && status == "" && !s.IsCancelled() {
		sub := deriveDecisionSubphase(s)
		return State{Phase: PhaseReadyToSession, Subphase: &sub}
	}

	sub := deriveDecisionSubphase(s)
	return State{Phase: PhaseAwaitingDecisions, Subphase: &sub}
}

func sessionStatus(s *shipment.Shipment) shipment.SessionStatus {
	if s.SessionStatus == nil {
		return ""
	}
	return *s.SessionStatus
}

// deriveDecisionSubphase implements the sub-priority ladder under
// AWAITING_DECISIONS (and its READY_TO_SESSION twin).
func deriveDecisionSubphase(s *shipment.Shipment) Subphase {
	if s.FulfillmentSessionID != nil && s.SessionStatus == nil {
		return SubphaseReadyForSKUVault
	}
	if s.PackagingTypeID != nil && s.FulfillmentSessionID == nil {
		return SubphaseNeedsSession
	}
	if s.FingerprintID != nil && s.PackagingTypeID == nil {
		return SubphaseNeedsPackaging
	}
	if s.FingerprintStatus != nil && *s.FingerprintStatus == shipment.FingerprintComplete && s.FingerprintID == nil {
		return SubphaseNeedsFingerprint
	}
	return SubphaseNeedsCategorization
}

// edge is a (from, to) pair in one of the allowed-transition graphs.
type edge struct {
	from Phase
	to   Phase
}

// LifecycleTransitions enumerates every allowed top-level phase
// transition. The worker refuses to persist a transition absent from this
// set (an invalid state transition).
var LifecycleTransitions = map[edge]bool{
	{PhaseReadyToSession, PhaseAwaitingDecisions}: true,
	{PhaseAwaitingDecisions, PhaseReadyToSession}: true,
	{PhaseReadyToSession, PhaseReadyToPick}:       true,
	{PhaseAwaitingDecisions, PhaseReadyToPick}:    true,
	{PhaseReadyToPick, PhasePicking}:              true,
	{PhasePicking, PhasePickingIssues}:            true,
	{PhasePickingIssues, PhasePicking}:            true,
	{PhasePicking, PhasePackingReady}:             true,
	{PhasePickingIssues, PhasePackingReady}:       true,
	{PhasePackingReady, PhaseOnDock}:              true,
	{PhasePicking, PhaseOnDock}:                   true,
	{PhasePickingIssues, PhaseOnDock}:             true,
	{PhaseReadyToPick, PhaseOnDock}:               true,
}

// subphaseEdge is a (from, to) pair within the AWAITING_DECISIONS /
// READY_TO_SESSION decision ladder.
type subphaseEdge struct {
	from Subphase
	to   Subphase
}

// DecisionTransitions enumerates allowed subphase transitions within the
// decision ladder — the subphase only ever moves "forward" (toward
// READY_FOR_SKUVAULT) as the fingerprint/packaging/session decisions are
// made, or backward when an assignment is cleared, returning the shipment
// to the earlier subphase.
var DecisionTransitions = map[subphaseEdge]bool{
	{SubphaseNeedsCategorization, SubphaseNeedsFingerprint}: true,
	{SubphaseNeedsFingerprint, SubphaseNeedsPackaging}:      true,
	{SubphaseNeedsPackaging, SubphaseNeedsSession}:          true,
	{SubphaseNeedsSession, SubphaseReadyForSKUVault}:        true,
	// backward: clearing an assignment
	{SubphaseReadyForSKUVault, SubphaseNeedsSession}:    true,
	{SubphaseNeedsSession, SubphaseNeedsPackaging}:      true,
	{SubphaseNeedsPackaging, SubphaseNeedsFingerprint}:  true,
	{SubphaseNeedsFingerprint, SubphaseNeedsCategorization}: true,
}

// IsAllowedTransition reports whether moving from `from` to `to` is a
// permitted top-level phase transition (including the no-op from == to).
func IsAllowedTransition(from, to Phase) bool {
	if from == to {
		return true
	}
	return LifecycleTransitions[edge{from, to}]
}

// IsAllowedSubphaseTransition reports whether a subphase move within the
// decision ladder is permitted (including the no-op from == to).
func IsAllowedSubphaseTransition(from, to Subphase) bool {
	if from == to {
		return true
	}
	return DecisionTransitions[subphaseEdge{from, to}]
}

// IsModifiable reports whether assignments on a shipment in this phase can
// still be changed — true only for the first two phases.
func IsModifiable(p Phase) bool {
	return p == PhaseReadyToSession || p == PhaseAwaitingDecisions
}

// phaseProgress orders phases for the 0-100 scalar Progress reports; later
// phases in warehouse flow score higher.
var phaseProgress = map[Phase]int{
	PhaseReadyToSession:    10,
	PhaseAwaitingDecisions: 20,
	PhaseReadyToPick:       45,
	PhasePicking:           60,
	PhasePickingIssues:     55,
	PhasePackingReady:      80,
	PhaseOnDock:            100,
}

// Progress returns a 0-100 scalar suitable for a UI progress bar. Within
// AWAITING_DECISIONS, the subphase refines the base score.
func Progress(s State) int {
	base, ok := phaseProgress[s.Phase]
	if !ok {
		return 0
	}
	if s.Phase != PhaseAwaitingDecisions || s.Subphase == nil {
		return base
	}
	subProgress := map[Subphase]int{
		SubphaseNeedsCategorization: 0,
		SubphaseNeedsFingerprint:    5,
		SubphaseNeedsPackaging:      10,
		SubphaseNeedsSession:        15,
		SubphaseReadyForSKUVault:    19,
	}
	return base - 20 + subProgress[*s.Subphase]
}
