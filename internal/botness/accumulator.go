package botness

// BudgetPolicy caps how much fingerprint-family evidence can contribute to
// the final score, so that a single noisy signal family can't dominate the
// botness verdict.
type BudgetPolicy struct {
	FingerprintTotalCap         uint8
	FingerprintHeaderRuntimeCap uint8
	FingerprintTransportCap     uint8
	FingerprintTemporalCap      uint8
	FingerprintPersistenceCap   uint8
	FingerprintBehaviorCap      uint8
}

// DefaultBudgetPolicy returns generous caps that only bite when several
// fingerprint signals fire at once.
func DefaultBudgetPolicy() BudgetPolicy {
	return BudgetPolicy{
		FingerprintTotalCap:         4,
		FingerprintHeaderRuntimeCap: 2,
		FingerprintTransportCap:     2,
		FingerprintTemporalCap:      2,
		FingerprintPersistenceCap:   1,
		FingerprintBehaviorCap:      2,
	}
}

func (p BudgetPolicy) familyCap(f Family) (uint8, bool) {
	switch f {
	case FamilyFingerprintHeaderRuntime:
		return p.FingerprintHeaderRuntimeCap, true
	case FamilyFingerprintTransport:
		return p.FingerprintTransportCap, true
	case FamilyFingerprintTemporal:
		return p.FingerprintTemporalCap, true
	case FamilyFingerprintPersistence:
		return p.FingerprintPersistenceCap, true
	case FamilyFingerprintBehavior:
		return p.FingerprintBehaviorCap, true
	default:
		return 0, false
	}
}

const maxScore uint8 = 10

// Accumulator collects signals in arrival order and folds their
// contributions into a single saturating 0..10 botness score, applying the
// configured budget policy as each signal is pushed.
type Accumulator struct {
	score            uint8
	signals          []Signal
	budgetPolicy     BudgetPolicy
	fingerprintTotal uint8
	familyTotals     map[Family]uint8
}

// NewAccumulator returns an accumulator using the default budget policy.
func NewAccumulator() *Accumulator {
	return NewAccumulatorWithPolicy(DefaultBudgetPolicy())
}

// NewAccumulatorWithCapacity preallocates room for n signals.
func NewAccumulatorWithCapacity(n int) *Accumulator {
	a := NewAccumulator()
	a.signals = make([]Signal, 0, n)
	return a
}

// NewAccumulatorWithPolicy returns an accumulator using an explicit budget
// policy, e.g. one loaded from the per-site config snapshot.
func NewAccumulatorWithPolicy(policy BudgetPolicy) *Accumulator {
	return &Accumulator{
		budgetPolicy: policy,
		familyTotals: make(map[Family]uint8),
	}
}

// applyBudget clamps a signal's contribution against the remaining
// fingerprint-family and fingerprint-total budget, mutating neither the
// signal's Active/Availability flags nor its recorded Confidence — only the
// contribution that counts toward the score is capped.
func (a *Accumulator) applyBudget(s *Signal) {
	if !s.Family.isFingerprint() || s.Contribution == 0 {
		return
	}

	if cap, ok := a.budgetPolicy.familyCap(s.Family); ok {
		remaining := saturatingSub(cap, a.familyTotals[s.Family])
		if s.Contribution > remaining {
			s.Contribution = remaining
		}
	}

	remainingTotal := saturatingSub(a.budgetPolicy.FingerprintTotalCap, a.fingerprintTotal)
	if s.Contribution > remainingTotal {
		s.Contribution = remainingTotal
	}

	a.familyTotals[s.Family] += s.Contribution
	a.fingerprintTotal += s.Contribution
}

func saturatingSub(a, b uint8) uint8 {
	if b >= a {
		return 0
	}
	return a - b
}

// Push records a signal, applying the budget policy and folding its
// (possibly capped) contribution into the running score. The running score
// never exceeds 10.
func (a *Accumulator) Push(s Signal) {
	a.applyBudget(&s)
	a.signals = append(a.signals, s)

	if uint16(a.score)+uint16(s.Contribution) > uint16(maxScore) {
		a.score = maxScore
	} else {
		a.score += s.Contribution
	}
}

// Finish returns the final clamped score and the ordered list of signals
// that were pushed, for inclusion in ban records and event logs.
func (a *Accumulator) Finish() (uint8, []Signal) {
	if a.score > maxScore {
		a.score = maxScore
	}
	return a.score, a.signals
}
