package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBucketIPv4IsStable(t *testing.T) {
	assert.Equal(t, "203.0.113.5", BucketIP("203.0.113.5"))
}

func TestBucketIPv6UsesSlash64Prefix(t *testing.T) {
	a := BucketIP("2001:db8::1")
	b := BucketIP("2001:db8::2")
	assert.Equal(t, a, b)
}

func TestBucketUATruncatesAndSanitizes(t *testing.T) {
	ua := BucketUA("Mozilla/5.0 (Windows NT 10.0; <script>)")
	assert.NotContains(t, ua, "<")
	assert.LessOrEqual(t, len(ua), 64)
}

func TestBucketUAEmptyYieldsUnknown(t *testing.T) {
	assert.Equal(t, "unknown", BucketUA(""))
}

func TestClassifyPathBucketsKnownRoutes(t *testing.T) {
	assert.Equal(t, "maze", ClassifyPath("/trap/abc123"))
	assert.Equal(t, "maze", ClassifyPath("/maze/def456"))
	assert.Equal(t, "admin", ClassifyPath("/admin/config"))
	assert.Equal(t, "other", ClassifyPath("/api/data"))
}

func TestPseudonymizeIdentityDisabledReturnsSanitizedIP(t *testing.T) {
	assert.Equal(t, "203.0.113.5", PseudonymizeIdentity("secret", "203.0.113.5", false))
}

func TestPseudonymizeIdentityEnabledReturns24HexChars(t *testing.T) {
	id := PseudonymizeIdentity("secret", "203.0.113.5", true)
	assert.Len(t, id, 24)

	other := PseudonymizeIdentity("secret", "203.0.113.6", true)
	assert.NotEqual(t, id, other)
}
