package challenge

import (
	"fmt"

	"github.com/edgegate/gate/pkg/xorshift"
)

// PuzzleGrid is the deterministic seeded transform presented to the user.
// Values and ExpectedOutput are both derived purely from the seed, so the
// server never needs to persist the puzzle itself.
type PuzzleGrid struct {
	Seed           uint64
	Values         []int
	ExpectedOutput string
}

const puzzleGridSize = 6

// BuildPuzzleGrid derives a small grid of values and the client's expected
// (sum modulo 1000, formatted) answer from seed, using the shared xorshift
// generator so server and any reference client implementation agree.
func BuildPuzzleGrid(seed uint64) PuzzleGrid {
	rng := xorshift.New(seed)
	values := make([]int, puzzleGridSize)
	sum := 0
	for i := range values {
		v := rng.Intn(9) + 1
		values[i] = v
		sum += v
	}
	return PuzzleGrid{
		Seed:           seed,
		Values:         values,
		ExpectedOutput: fmt.Sprintf("%d", sum%1000),
	}
}

// CheckPuzzleOutput reports whether submitted matches the expected output
// for seed, recomputing the expected value server-side rather than
// trusting any client-supplied expectation.
func CheckPuzzleOutput(seed uint64, submitted string) bool {
	return BuildPuzzleGrid(seed).ExpectedOutput == submitted
}
