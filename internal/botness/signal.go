// Package botness implements the budgeted, confidence-weighted signal
// accumulator that fuses request-integrity, rate, fingerprint-family, and
// deception signals into a bounded 0..10 botness score.
package botness

// Availability describes whether a signal was actually evaluated this
// request.
type Availability string

const (
	AvailabilityActive      Availability = "active"
	AvailabilityDisabled    Availability = "disabled"
	AvailabilityUnavailable Availability = "unavailable"
)

// Provenance describes where a signal's evidence originated, which affects
// how much it should be trusted.
type Provenance string

const (
	Internal          Provenance = "internal"
	ExternalTrusted   Provenance = "external_trusted"
	ExternalUntrusted Provenance = "external_untrusted"
	Derived           Provenance = "derived"
)

// Family buckets signals for budget-capping purposes.
type Family string

const (
	FamilyRequestIntegrity         Family = "request_integrity"
	FamilyGeo                      Family = "geo"
	FamilyRate                     Family = "rate"
	FamilyDeception                Family = "deception"
	FamilyFingerprintHeaderRuntime Family = "fingerprint_header_runtime"
	FamilyFingerprintTransport     Family = "fingerprint_transport"
	FamilyFingerprintTemporal      Family = "fingerprint_temporal"
	FamilyFingerprintPersistence   Family = "fingerprint_persistence"
	FamilyFingerprintBehavior      Family = "fingerprint_behavior"
	FamilyOther                    Family = "other"
)

func (f Family) isFingerprint() bool {
	switch f {
	case FamilyFingerprintHeaderRuntime, FamilyFingerprintTransport,
		FamilyFingerprintTemporal, FamilyFingerprintPersistence, FamilyFingerprintBehavior:
		return true
	default:
		return false
	}
}

// Signal is one scored or informational observation about a request.
type Signal struct {
	Key          string
	Label        string
	Active       bool
	Contribution uint8
	Availability Availability
	Provenance   Provenance
	Confidence   uint8
	Family       Family
}

func clampConfidence(c uint8) uint8 {
	if c > 10 {
		return 10
	}
	return c
}

// scaleWeightByConfidence computes ceil(weight * confidence / 10), matching
// the accumulator's scoring formula exactly.
func scaleWeightByConfidence(weight, confidence uint8) uint8 {
	confidence = clampConfidence(confidence)
	return uint8((uint16(weight)*uint16(confidence) + 9) / 10)
}

// Scored builds an active/inactive internal signal with default full
// confidence and the Other family — the simplest constructor, used where
// provenance/family metadata doesn't matter.
func Scored(key, label string, active bool, weight uint8) Signal {
	return ScoredWithMetadata(key, label, active, weight, Internal, 10, FamilyOther)
}

// ScoredWithMetadata builds a signal with full provenance/confidence/family
// metadata. Contribution is computed from weight and confidence only when
// active; inactive signals always contribute zero.
func ScoredWithMetadata(key, label string, active bool, weight uint8, provenance Provenance, confidence uint8, family Family) Signal {
	confidence = clampConfidence(confidence)
	var contribution uint8
	if active {
		contribution = scaleWeightByConfidence(weight, confidence)
	}
	return Signal{
		Key:          key,
		Label:        label,
		Active:       active,
		Contribution: contribution,
		Availability: AvailabilityActive,
		Provenance:   provenance,
		Confidence:   confidence,
		Family:       family,
	}
}

// Disabled builds a signal that was intentionally not evaluated (e.g. the
// feature is turned off in config).
func Disabled(key, label string) Signal {
	return DisabledWithMetadata(key, label, Internal, 10, FamilyOther)
}

func DisabledWithMetadata(key, label string, provenance Provenance, confidence uint8, family Family) Signal {
	return Signal{
		Key:          key,
		Label:        label,
		Active:       false,
		Contribution: 0,
		Availability: AvailabilityDisabled,
		Provenance:   provenance,
		Confidence:   clampConfidence(confidence),
		Family:       family,
	}
}

// Unavailable builds a signal that could not be evaluated this request
// (e.g. its evidence source wasn't present).
func Unavailable(key, label string) Signal {
	return UnavailableWithMetadata(key, label, Internal, 10, FamilyOther)
}

func UnavailableWithMetadata(key, label string, provenance Provenance, confidence uint8, family Family) Signal {
	return Signal{
		Key:          key,
		Label:        label,
		Active:       false,
		Contribution: 0,
		Availability: AvailabilityUnavailable,
		Provenance:   provenance,
		Confidence:   clampConfidence(confidence),
		Family:       family,
	}
}
