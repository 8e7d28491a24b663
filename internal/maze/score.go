package maze

import "github.com/edgegate/gate/internal/botness"

// Traversal events feed back into the botness accumulator as deception
// signals: failing a traversal token looks more like an automated retry
// than mistaken navigation, so it scores higher than merely exhausting a
// shared concurrency budget, which can happen to well-behaved clients
// sharing an IP during a legitimate burst.
const (
	tokenFailureWeight     uint8 = 2
	budgetExhaustionWeight uint8 = 1
	routineProgressWeight  uint8 = 1
	mazeSignalConfidence   uint8 = 10
)

// TokenFailureSignal is pushed when a hop's traversal token fails parsing,
// binding, or replay checks.
func TokenFailureSignal() botness.Signal {
	return botness.ScoredWithMetadata("maze_token_failure", "maze traversal token rejected", true, tokenFailureWeight, botness.Internal, mazeSignalConfidence, botness.FamilyDeception)
}

// BudgetExhaustionSignal is pushed when a hop is turned away because the
// concurrency budget (global or per-bucket) is exhausted.
func BudgetExhaustionSignal() botness.Signal {
	return botness.ScoredWithMetadata("maze_budget_exhausted", "maze concurrency budget exhausted", true, budgetExhaustionWeight, botness.Internal, mazeSignalConfidence, botness.FamilyDeception)
}

// RoutineProgressionSignal is pushed for ordinary forward progress through
// the maze, sampled rather than applied on every hop so a long traversal
// doesn't saturate the score purely from volume.
func RoutineProgressionSignal() botness.Signal {
	return botness.ScoredWithMetadata("maze_routine_progression", "maze traversal in progress", true, routineProgressWeight, botness.Internal, mazeSignalConfidence, botness.FamilyDeception)
}

// ShouldSampleProgression reports whether depth is one of the sampled
// depths at which routine progression is scored, once every other hop.
func ShouldSampleProgression(depth int) bool {
	return depth > 0 && depth%2 == 0
}
