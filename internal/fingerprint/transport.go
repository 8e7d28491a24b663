package fingerprint

import "strings"

// TransportEvidence carries the edge-injected transport-level signal
// values, populated only when trusted-header ingestion is configured.
type TransportEvidence struct {
	Family    Family
	JA4Hash   string
	EdgeScore float64
	Present   bool
}

// sanitizeTransportToken keeps the value bounded, lowercased, and limited
// to an identifier-safe character set, since it came from a header an edge
// proxy injected and must never be trusted verbatim downstream.
func sanitizeTransportToken(raw string) string {
	var b strings.Builder
	for i, r := range raw {
		if i >= 256 {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == ':':
			b.WriteRune(r)
		}
	}
	return strings.ToLower(b.String())
}

// ParseEdgeScore parses a trusted edge-confidence score, clamped to
// [0, 100]. An unparseable value yields 0.
func ParseEdgeScore(raw string) float64 {
	var score float64
	var n int
	for _, r := range raw {
		if r < '0' || r > '9' {
			if r == '.' {
				continue
			}
			return 0
		}
		n++
	}
	if n == 0 {
		return 0
	}
	var whole, frac float64
	var fracDiv float64 = 1
	inFrac := false
	for _, r := range raw {
		if r == '.' {
			inFrac = true
			continue
		}
		d := float64(r - '0')
		if inFrac {
			fracDiv *= 10
			frac += d / fracDiv
		} else {
			whole = whole*10 + d
		}
	}
	score = whole + frac
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// ExtractTransportEvidence reads the edge-injected transport fingerprint
// headers when headersTrusted is true. When untrusted, it returns an empty,
// absent-marked evidence value regardless of what the headers claim, so a
// spoofed client can't inject transport evidence of its own.
func ExtractTransportEvidence(secChTransportFamily, secChTransportJA4, secChTransportScore string, headersTrusted bool) TransportEvidence {
	if !headersTrusted {
		return TransportEvidence{Present: secChTransportFamily != "" || secChTransportJA4 != ""}
	}
	family := FamilyFromToken(sanitizeTransportToken(secChTransportFamily))
	return TransportEvidence{
		Family:    family,
		JA4Hash:   sanitizeTransportToken(secChTransportJA4),
		EdgeScore: ParseEdgeScore(secChTransportScore),
		Present:   secChTransportFamily != "" || secChTransportJA4 != "",
	}
}

// FamilyFromToken classifies an already-sanitized transport family token.
func FamilyFromToken(token string) Family {
	switch token {
	case "chrome", "chromium":
		return FamilyChrome
	case "firefox":
		return FamilyFirefox
	case "safari":
		return FamilySafari
	case "edge":
		return FamilyEdge
	default:
		return FamilyOther
	}
}

// UATransportFamilyMismatch reports whether edge-injected transport
// evidence claims a browser family inconsistent with the request's UA.
// Only meaningful when evidence.Present and the caller has confirmed
// headers are trusted.
func UATransportFamilyMismatch(ua string, evidence TransportEvidence) bool {
	if !evidence.Present || evidence.Family == FamilyOther {
		return false
	}
	return NormalizeBrowserFamily(ua) != evidence.Family
}
