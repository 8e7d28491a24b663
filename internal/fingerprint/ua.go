package fingerprint

import "strings"

// Family is the coarse browser family extracted from a User-Agent string
// or a sec-ch-ua client hint.
type Family string

const (
	FamilyChrome  Family = "chrome"
	FamilyFirefox Family = "firefox"
	FamilySafari  Family = "safari"
	FamilyEdge    Family = "edge"
	FamilyOther   Family = "other"
)

// NormalizeBrowserFamily classifies a raw User-Agent string. Edge and Chrome
// both carry "Chrome/" in their UA string, so Edge must be checked first;
// Safari's UA string also contains "Safari/" even on Chrome, so Safari is
// only recognized when the string does NOT also claim Chrome.
func NormalizeBrowserFamily(ua string) Family {
	lower := strings.ToLower(ua)
	switch {
	case strings.Contains(lower, "edg/") || strings.Contains(lower, "edge/"):
		return FamilyEdge
	case strings.Contains(lower, "chrome/") || strings.Contains(lower, "chromium/"):
		return FamilyChrome
	case strings.Contains(lower, "firefox/"):
		return FamilyFirefox
	case strings.Contains(lower, "safari/") && !strings.Contains(lower, "chrome/"):
		return FamilySafari
	default:
		return FamilyOther
	}
}

// ExtractUAFamily is an alias kept for call-site clarity at the collection
// pipeline's call boundary.
func ExtractUAFamily(ua string) Family {
	return NormalizeBrowserFamily(ua)
}

// FamilyFromClientHint classifies the sec-ch-ua client hint header, which
// carries a comma-separated list of quoted brand;v= pairs.
func FamilyFromClientHint(hint string) Family {
	lower := strings.ToLower(hint)
	switch {
	case strings.Contains(lower, "microsoft edge"):
		return FamilyEdge
	case strings.Contains(lower, "chromium") || strings.Contains(lower, "google chrome"):
		return FamilyChrome
	case strings.Contains(lower, "firefox"):
		return FamilyFirefox
	case strings.Contains(lower, "safari"):
		return FamilySafari
	default:
		return FamilyOther
	}
}

// BoolFromClientHintMobile parses the sec-ch-ua-mobile header, whose value
// is "?1" (mobile) or "?0" (desktop). Any other value is treated as unknown
// and reported as false, matching a desktop-shaped UA by default.
func BoolFromClientHintMobile(value string) bool {
	return strings.TrimSpace(value) == "?1"
}

// uaLooksMobile is a coarse heuristic over the raw UA string, used only to
// cross-check the client hint's claim.
func uaLooksMobile(ua string) bool {
	lower := strings.ToLower(ua)
	return strings.Contains(lower, "mobile") || strings.Contains(lower, "android") || strings.Contains(lower, "iphone")
}

// DetectUAClientHintMismatch reports whether the UA's browser family or
// mobile/desktop shape disagrees with the sec-ch-ua / sec-ch-ua-mobile
// client hints. An empty client hint means the browser didn't send one;
// that is not itself a mismatch.
func DetectUAClientHintMismatch(ua, secChUA, secChUAMobile string) bool {
	if secChUA != "" {
		uaFamily := NormalizeBrowserFamily(ua)
		hintFamily := FamilyFromClientHint(secChUA)
		if hintFamily != FamilyOther && uaFamily != FamilyOther && hintFamily != uaFamily {
			return true
		}
	}
	if secChUAMobile != "" {
		hintMobile := BoolFromClientHintMobile(secChUAMobile)
		if hintMobile != uaLooksMobile(ua) {
			return true
		}
	}
	return false
}
