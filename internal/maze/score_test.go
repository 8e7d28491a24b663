package maze

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenFailureSignalContributesTwo(t *testing.T) {
	sig := TokenFailureSignal()
	assert.Equal(t, uint8(2), sig.Contribution)
}

func TestBudgetExhaustionSignalContributesOne(t *testing.T) {
	sig := BudgetExhaustionSignal()
	assert.Equal(t, uint8(1), sig.Contribution)
}

func TestShouldSampleProgressionEveryOtherDepth(t *testing.T) {
	assert.False(t, ShouldSampleProgression(1))
	assert.True(t, ShouldSampleProgression(2))
	assert.False(t, ShouldSampleProgression(3))
	assert.True(t, ShouldSampleProgression(4))
}
