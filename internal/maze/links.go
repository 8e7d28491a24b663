package maze

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/edgegate/gate/internal/kvstore"
	"github.com/edgegate/gate/pkg/xorshift"
	"github.com/google/uuid"
)

const hardHiddenLinkCap = 24

// ExpansionSeed is the signed material behind a maze page's hidden-link
// expansion: it binds the flow and parent hop so the client-side script's
// regenerated candidate list can only ever be redeemed against the parent
// that issued it.
type ExpansionSeed struct {
	FlowID       string `json:"flow_id"`
	PathPrefix   string `json:"path_prefix"`
	EntropyNonce string `json:"entropy_nonce"`
	Depth        int    `json:"depth"`
	Seed         uint64 `json:"seed"`
	HiddenCount  int    `json:"hidden_count"`
	SegmentLen   int    `json:"segment_len"`
	OperationID  string `json:"operation_id"`
}

// MakeExpansionToken signs an ExpansionSeed for embedding in a rendered
// page.
func MakeExpansionToken(secret []byte, seed ExpansionSeed) (string, error) {
	raw, err := json.Marshal(seed)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(raw)
	sig := mac.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(raw) + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

// ParseExpansionToken verifies and decodes an expansion token.
func ParseExpansionToken(secret []byte, token string) (ExpansionSeed, error) {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return ExpansionSeed{}, ErrTokenInvalid
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return ExpansionSeed{}, ErrTokenInvalid
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return ExpansionSeed{}, ErrTokenInvalid
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(raw)
	if !hmac.Equal(mac.Sum(nil), sig) {
		return ExpansionSeed{}, ErrTokenInvalid
	}
	var seed ExpansionSeed
	if err := json.Unmarshal(raw, &seed); err != nil {
		return ExpansionSeed{}, ErrTokenInvalid
	}
	return seed, nil
}

func expansionIssueKey(flowID, operationID string) string {
	return fmt.Sprintf("maze:token:issue:%s:%s", flowID, operationID)
}

// ClaimExpansion marks the parent operation id as having had its hidden
// links issued, so the same expansion seed can't be redeemed twice. Returns
// false if it was already claimed.
func ClaimExpansion(ctx context.Context, store kvstore.Store, flowID, operationID string, ttl time.Duration) (bool, error) {
	ok, err := store.SetNX(ctx, expansionIssueKey(flowID, operationID), []byte("1"), ttl)
	if err != nil {
		return false, fmt.Errorf("maze: claim expansion: %w", err)
	}
	return ok, nil
}

// CandidateCount resolves how many child links to actually issue: the
// lesser of what the client requested, what the signed seed authorized,
// the parent's remaining branch budget, and the hard cap.
func CandidateCount(requested, signedHiddenCount, branchBudget int) int {
	n := requested
	if signedHiddenCount < n {
		n = signedHiddenCount
	}
	if branchBudget < n {
		n = branchBudget
	}
	if n > hardHiddenLinkCap {
		n = hardHiddenLinkCap
	}
	if n < 0 {
		n = 0
	}
	return n
}

// ChildLink is one freshly minted hidden link issued off a parent hop.
type ChildLink struct {
	Label      string
	Token      string
	Difficulty int
}

// IssueChildren mints n child traversal tokens descending from parent,
// using the same deterministic ordering the client-side xorshift expansion
// would produce so the server's and client's candidate lists agree on
// which label maps to which position.
func IssueChildren(secret []byte, parent Token, seed ExpansionSeed, n int, powBase, startDepth int) []ChildLink {
	rng := xorshift.New(seed.Seed)
	childDepth := parent.Depth + 1
	childBudget := ChildBudget(parent.BranchBudget)

	children := make([]ChildLink, 0, n)
	for i := 0; i < n; i++ {
		label := LinkLabel(rng, i)
		child := Token{
			FlowID:       parent.FlowID,
			OperationID:  uuid.NewString(),
			PathPrefix:   parent.PathPrefix,
			PathDigest:   PathDigestOf(parent.PathPrefix + "/" + label),
			Depth:        childDepth,
			BranchBudget: childBudget,
			EntropyNonce: seed.EntropyNonce,
			VariantID:    label,
			PrevDigest:   parent.Digest(),
			IPBucket:     parent.IPBucket,
			UABucket:     parent.UABucket,
			IssuedAt:     parent.IssuedAt,
			ExpiresAt:    parent.ExpiresAt,
		}
		children = append(children, ChildLink{
			Label:      label,
			Token:      Mint(secret, child),
			Difficulty: Difficulty(powBase, childDepth, startDepth),
		})
	}
	return children
}
