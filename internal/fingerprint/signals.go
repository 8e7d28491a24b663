package fingerprint

import (
	"context"
	"time"

	"github.com/edgegate/gate/internal/botness"
	"github.com/edgegate/gate/internal/kvstore"
)

// Evidence is the raw per-request material the signal pipeline extracts
// from. Callers populate it from HTTP headers and cookies before calling
// CollectBotSignals.
type Evidence struct {
	UserAgent            string
	SecChUA              string
	SecChUAMobile        string
	SecChTransportFamily string
	SecChTransportJA4    string
	SecChTransportScore  string
	HeadersTrusted       bool
	JSVerifiedCookie     bool
	PersistenceCookie    bool
}

// Policy configures the window, thresholds, and TTLs the collection
// pipeline needs, sourced from the loaded Config.
type Policy struct {
	FlowWindowSec         int
	FlowMismatchThreshold int
	TemporalHalfWindowSec int
	StateTTL              time.Duration
}

const (
	keyUAClientHintMismatch = "ua_client_hint_mismatch"
	keyUATransportMismatch  = "ua_transport_mismatch"
	keyTemporalTransition   = "temporal_transition"
	keyFlowViolation        = "flow_violation"
	keyPersistenceMissing   = "persistence_marker_missing"
	keyUntrustedTransport   = "untrusted_transport_headers"
	keyTransportUnavailable = "transport_signal_unavailable"
)

// CollectBotSignals runs the full six-signal fingerprint extraction
// pipeline for one request, reading and updating the identity's KV-backed
// state and flow-mismatch counter as a side effect.
func CollectBotSignals(ctx context.Context, store kvstore.Store, evidence Evidence, policy Policy, identity string, now time.Time) ([]botness.Signal, error) {
	signals := make([]botness.Signal, 0, 7)

	uaFamily := NormalizeBrowserFamily(evidence.UserAgent)

	clientHintMismatch := DetectUAClientHintMismatch(evidence.UserAgent, evidence.SecChUA, evidence.SecChUAMobile)
	signals = append(signals, botness.ScoredWithMetadata(
		keyUAClientHintMismatch, "UA/client-hint mismatch", clientHintMismatch,
		2, botness.Internal, 8, botness.FamilyFingerprintHeaderRuntime,
	))

	transportEvidence := ExtractTransportEvidence(evidence.SecChTransportFamily, evidence.SecChTransportJA4, evidence.SecChTransportScore, evidence.HeadersTrusted)

	anyMismatch := clientHintMismatch

	if evidence.HeadersTrusted {
		transportMismatch := UATransportFamilyMismatch(evidence.UserAgent, transportEvidence)
		confidence := edgeConfidence(transportEvidence)
		signals = append(signals, botness.ScoredWithMetadata(
			keyUATransportMismatch, "UA/transport mismatch", transportMismatch,
			3, botness.ExternalTrusted, confidence, botness.FamilyFingerprintTransport,
		))
		anyMismatch = anyMismatch || transportMismatch
	} else if transportEvidence.Present {
		signals = append(signals, botness.ScoredWithMetadata(
			keyUntrustedTransport, "untrusted transport headers present", true,
			3, botness.ExternalUntrusted, 9, botness.FamilyFingerprintTransport,
		))
		anyMismatch = true
	} else {
		signals = append(signals, botness.UnavailableWithMetadata(
			keyTransportUnavailable, "transport signal unavailable",
			botness.Internal, 0, botness.FamilyFingerprintTransport,
		))
	}

	priorState, hadState, err := loadState(ctx, store, identity)
	if err != nil {
		return nil, err
	}
	temporalImpossible := false
	if hadState {
		temporalImpossible = temporalTransitionImpossible(priorState, uaFamily, transportEvidence.JA4Hash, policy.TemporalHalfWindowSec, now)
	}
	signals = append(signals, botness.ScoredWithMetadata(
		keyTemporalTransition, "temporal transition impossible", temporalImpossible,
		2, botness.Derived, 8, botness.FamilyFingerprintTemporal,
	))
	if temporalImpossible {
		anyMismatch = true
	}

	newState := State{TimestampMs: now.UnixMilli(), UAFamily: uaFamily, JA4Hash: transportEvidence.JA4Hash}
	if err := storeState(ctx, store, identity, newState, policy.StateTTL); err != nil {
		return nil, err
	}

	if anyMismatch {
		if _, err := updateFlowMismatchCount(ctx, store, identity, policy.FlowWindowSec, policy.StateTTL, now); err != nil {
			return nil, err
		}
	}
	mismatchCount := readFlowMismatchCount(ctx, store, identity, policy.FlowWindowSec, now)
	flowViolation := mismatchCount >= int64(policy.FlowMismatchThreshold)
	signals = append(signals, botness.ScoredWithMetadata(
		keyFlowViolation, "flow violation", flowViolation,
		2, botness.Derived, 7, botness.FamilyFingerprintBehavior,
	))

	persistenceMissing := evidence.JSVerifiedCookie && !evidence.PersistenceCookie && anyMismatch
	signals = append(signals, botness.ScoredWithMetadata(
		keyPersistenceMissing, "persistence marker missing", persistenceMissing,
		1, botness.Internal, 6, botness.FamilyFingerprintPersistence,
	))

	return signals, nil
}

// edgeConfidence scales the trusted edge score into the 7-9 confidence band
// the transport-mismatch signal reports, matching the teacher's
// edge_confidence derivation.
func edgeConfidence(evidence TransportEvidence) uint8 {
	switch {
	case evidence.EdgeScore >= 90:
		return 9
	case evidence.EdgeScore >= 50:
		return 8
	default:
		return 7
	}
}

// temporalTransitionImpossible reports whether the prior state for this
// identity is incompatible with the current observation within the
// fingerprint window: an other-family prior never triggers this (an
// "other" classification carries no claim to contradict), a UA family
// change between two concrete families always does, and a JA4 hash change
// under the same UA family only counts within half the window.
func temporalTransitionImpossible(prior State, currentFamily Family, currentJA4 string, halfWindowSec int, now time.Time) bool {
	if prior.UAFamily == FamilyOther || currentFamily == FamilyOther {
		return false
	}
	if prior.UAFamily != currentFamily {
		return true
	}
	if prior.JA4Hash == "" || currentJA4 == "" || prior.JA4Hash == currentJA4 {
		return false
	}
	elapsed := now.Sub(time.UnixMilli(prior.TimestampMs))
	return elapsed < time.Duration(halfWindowSec)*time.Second
}
