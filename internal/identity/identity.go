// Package identity derives the coarse, privacy-preserving request-binding
// descriptors (ip_bucket, ua_bucket, path_class) and the pseudonymized
// fingerprint identity used throughout the rest of the module.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"strings"
)

// BucketIP coarsens a client IP into a stable bucket string: the full
// address for IPv4, and the /64 prefix for IPv6, so that rotating host
// bits within an ISP-assigned range don't fragment a single client's rate
// and binding state.
func BucketIP(ip string) string {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return sanitizeToken(ip)
	}
	if v4 := parsed.To4(); v4 != nil {
		return v4.String()
	}
	mask := net.CIDRMask(64, 128)
	return parsed.Mask(mask).String()
}

// BucketUA coarsens a User-Agent string into a short stable token: the
// first 64 sanitized characters are sufficient to bind a request without
// retaining the full header value.
func BucketUA(ua string) string {
	sanitized := sanitizeToken(ua)
	if len(sanitized) > 64 {
		sanitized = sanitized[:64]
	}
	if sanitized == "" {
		return "unknown"
	}
	return sanitized
}

// ClassifyPath buckets a request path into a coarse class used for request
// binding and metrics, never retaining the literal path.
func ClassifyPath(path string) string {
	switch {
	case strings.HasPrefix(path, "/challenge/puzzle"):
		return "challenge_puzzle"
	case strings.HasPrefix(path, "/challenge/not-a-bot"):
		return "not_a_bot"
	case strings.HasPrefix(path, "/maze/"), strings.HasPrefix(path, "/trap/"):
		return "maze"
	case strings.HasPrefix(path, "/admin"):
		return "admin"
	case path == "/health":
		return "health"
	case path == "/metrics":
		return "metrics"
	case path == "/robots.txt":
		return "robots"
	default:
		return "other"
	}
}

// sanitizeToken keeps alphanumerics and a small set of separators,
// replacing everything else with '_', then lowercases the result.
func sanitizeToken(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == ':' || r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return strings.ToLower(b.String())
}

// PseudonymizeIdentity returns the fingerprint identity for ip: when
// pseudonymize is true, the first 24 hex chars of SHA-256(secret|ip);
// otherwise the sanitized IP itself.
func PseudonymizeIdentity(secret, ip string, pseudonymize bool) string {
	if !pseudonymize {
		return sanitizeToken(ip)
	}
	sum := sha256.Sum256([]byte(secret + "|" + ip))
	return hex.EncodeToString(sum[:])[:24]
}
