package maze

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInstrumentRolloutNeverEnforces(t *testing.T) {
	_, enforced := Resolve(ReasonBudgetExceeded, RolloutInstrument, 0)
	assert.False(t, enforced)
}

func TestAdvisoryRolloutOnlyEnforcesBudget(t *testing.T) {
	action, enforced := Resolve(ReasonBudgetExceeded, RolloutAdvisory, 0)
	assert.True(t, enforced)
	assert.Equal(t, ActionChallenge, action)

	_, enforced2 := Resolve(ReasonTokenInvalid, RolloutAdvisory, 0)
	assert.False(t, enforced2)
}

func TestAdvisoryRolloutIgnoresOtherReasonsEvenWithViolations(t *testing.T) {
	action, enforced := Resolve(ReasonTokenInvalid, RolloutAdvisory, 2)
	assert.False(t, enforced)
	assert.Equal(t, Action(""), action)
}

func TestEnforceRolloutAppliesDefaultClass(t *testing.T) {
	action, enforced := Resolve(ReasonTokenInvalid, RolloutEnforce, 0)
	assert.True(t, enforced)
	assert.Equal(t, ActionBlock, action)

	action2, _ := Resolve(ReasonMicroPowFailed, RolloutEnforce, 0)
	assert.Equal(t, ActionChallenge, action2)
}

func TestViolationCountEscalatesAction(t *testing.T) {
	action, _ := Resolve(ReasonTokenInvalid, RolloutEnforce, 2)
	assert.Equal(t, ActionChallenge, action)

	action2, _ := Resolve(ReasonTokenInvalid, RolloutEnforce, 3)
	assert.Equal(t, ActionBlock, action2)
}
