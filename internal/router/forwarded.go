package router

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strings"
)

// forwardedIPHeader carries the real client IP as set by a trusted edge
// proxy, paired with an HMAC signature in forwardedSigHeader so a direct
// client can't spoof it. Both headers must be present and the signature
// must verify before the forwarded IP is trusted over RemoteAddr.
const (
	forwardedIPHeader  = "X-Edge-Client-IP"
	forwardedSigHeader = "X-Edge-Client-IP-Sig"
)

// verifyForwardedHeader returns the claimed client IP if the request
// carries a validly signed forwarded-IP header pair, or "" otherwise.
func verifyForwardedHeader(r *http.Request, secret []byte) string {
	ip := strings.TrimSpace(r.Header.Get(forwardedIPHeader))
	sigHeader := r.Header.Get(forwardedSigHeader)
	if ip == "" || sigHeader == "" {
		return ""
	}
	sig, err := base64.RawURLEncoding.DecodeString(sigHeader)
	if err != nil {
		return ""
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(ip))
	if !hmac.Equal(mac.Sum(nil), sig) {
		return ""
	}
	return ip
}
