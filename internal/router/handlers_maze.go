package router

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/edgegate/gate/internal/maze"
	"github.com/edgegate/gate/pkg/xorshift"
)

// HandleMazeTraversal serves one hop of the maze. Every hop, including a
// failed or replayed token, returns 200 with a rendered page; only a store
// error returns 500. On a fallback the reason and resolved action are
// recorded as a metric and the engine updates the violation counter; the
// botness signal carried in the hop outcome is not applied to later
// requests.
func (g *Gate) HandleMazeTraversal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rc := g.buildContext(r)
	policy := g.mazePolicyFor()

	rawToken := r.URL.Query().Get("mt")
	pathPrefix := g.MazeRoute
	pathDigest := maze.PathDigestOf(r.URL.Path)

	var outcome maze.HopOutcome
	var err error
	if rawToken == "" {
		entropyNonce := strconv.FormatUint(xorshift.DeriveSeed(rc.ipBucket, rc.uaBucket, r.URL.Path), 16)
		outcome, err = maze.Begin(ctx, g.Store, g.MazeSecret, flowIDFor(rc), pathPrefix, rc.ipBucket, rc.uaBucket, entropyNonce, policy, rc.now)
	} else {
		score, _, _ := g.collectSignals(ctx, r, rc)
		outcome, err = maze.Advance(ctx, g.Store, g.MazeSecret, rawToken, pathPrefix, pathDigest, rc.ipBucket, rc.uaBucket, score, policy, rc.now)
	}
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if outcome.Lease != nil {
		defer outcome.Lease.Release(ctx)
	}

	if outcome.Fell {
		g.Metrics.RecordMazeFallback(string(outcome.Fallback), string(outcome.Action))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write([]byte(maze.Render(1, maze.StyleMachine, 0).HTML))
		return
	}

	seed := xorshift.DeriveSeed(outcome.Token.FlowID, strconv.Itoa(outcome.Token.Depth), outcome.Token.EntropyNonce)
	page := maze.Render(seed, outcome.Style, g.Config.Maze.HiddenLinkCount)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write([]byte(page.HTML))
}

func (g *Gate) mazePolicyFor() maze.Policy {
	return maze.Policy{
		MaxDepth:         g.Config.Maze.MaxDepth,
		BaseBranchBudget: g.Config.Maze.BranchBudget,
		GlobalBudgetCap:  int64(g.Config.Maze.ConcurrencyBudget * 8),
		BucketBudgetCap:  int64(g.Config.Maze.ConcurrencyBudget),
		TokenTTL:         time.Duration(g.Config.Maze.TraversalTokenTTLSec) * time.Second,
		ChainMarkerTTL:   time.Duration(g.Config.Maze.TraversalTokenTTLSec) * time.Second,
		Checkpoint: maze.CheckpointPolicy{
			StepAheadMax:      3,
			CheckpointEveryMs: int64(g.Config.Maze.CheckpointTTLSec) * 1000,
			NoJSFallbackDepth: 2,
		},
		PowBase: g.Config.Maze.PoWBaseDifficulty,
		Rollout: maze.Rollout(g.Config.Rollout.Phase),
	}
}

func flowIDFor(rc requestContext) string {
	return rc.ipBucket + ":" + strconv.FormatInt(rc.now.Unix()/60, 10)
}

// HandleMazeCheckpoint records the client traversal script's progress post.
func (g *Gate) HandleMazeCheckpoint(w http.ResponseWriter, r *http.Request) {
	rc := g.buildContext(r)
	var req struct {
		FlowID    string `json:"flow_id"`
		LastDepth int    `json:"last_depth"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FlowID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	cp := maze.Checkpoint{
		LastTimestampMs: rc.now.UnixMilli(),
		LastDepth:       req.LastDepth,
		ExpiresAt:       rc.now.Add(time.Duration(g.Config.Maze.CheckpointTTLSec) * time.Second).Unix(),
	}
	ttl := time.Duration(g.Config.Maze.CheckpointTTLSec) * time.Second
	if err := maze.StoreCheckpoint(r.Context(), g.Store, req.FlowID, rc.ipBucket, cp, ttl); err != nil {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleMazeIssueLinks verifies a parent traversal token and its expansion
// seed, then mints a bounded batch of fresh child traversal tokens.
func (g *Gate) HandleMazeIssueLinks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rc := g.buildContext(r)

	var req struct {
		ParentToken    string `json:"parent_token"`
		ExpansionToken string `json:"expansion_token"`
		Requested      int    `json:"requested"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	parent, err := maze.Parse(g.MazeSecret, req.ParentToken)
	if err != nil {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	if err := maze.VerifyBinding(parent, parent.PathPrefix, parent.PathDigest, rc.ipBucket, rc.uaBucket, g.Config.Maze.MaxDepth, rc.now); err != nil {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	seed, err := maze.ParseExpansionToken(g.ExpansionSecret, req.ExpansionToken)
	if err != nil || seed.FlowID != parent.FlowID {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	claimed, err := maze.ClaimExpansion(ctx, g.Store, parent.FlowID, seed.OperationID, time.Duration(g.Config.Maze.TraversalTokenTTLSec)*time.Second)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if !claimed {
		w.WriteHeader(http.StatusConflict)
		return
	}

	n := maze.CandidateCount(req.Requested, seed.HiddenCount, parent.BranchBudget)
	children := maze.IssueChildren(g.MazeSecret, parent, seed, n, g.Config.Maze.PoWBaseDifficulty, 1)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"links": children})
}

// HandleMazeAsset serves a content-addressed, immutable-cached maze asset.
// The digest is the path's final segment; since the content is
// deterministically derived from it, any stale cached copy is still valid.
func (g *Gate) HandleMazeAsset(w http.ResponseWriter, r *http.Request) {
	segments := strings.Split(strings.TrimRight(r.URL.Path, "/"), "/")
	digest := segments[len(segments)-1]
	seed := xorshift.DeriveSeed(digest)
	rng := xorshift.New(seed)

	w.Header().Set("Content-Type", "text/css")
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	fmt.Fprintf(w, ".%s{opacity:%d}\n", maze.LinkLabel(rng, 0), rng.Intn(2))
}
