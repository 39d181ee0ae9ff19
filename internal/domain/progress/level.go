package progress

import "math"

// ══════════════════════════════════════════════════════════════════════════════
// LEVEL CALCULATOR
// ══════════════════════════════════════════════════════════════════════════════

// levelStep is the XP scale of the curve: completing level L costs 100·L.
const levelStep = 50

// ThresholdFor returns the total experience needed to complete level,
// i.e. the minimum total experience of level+1: 50·L² + 50·L.
// ThresholdFor(0) is 0.
func ThresholdFor(level int) int64 {
	if level <= 0 {
		return 0
	}
	l := int64(level)
	return levelStep*l*l + levelStep*l
}

// Level returns the largest L ≥ 1 such that ThresholdFor(L-1) ≤ totalExperience.
// Negative input is treated as zero.
func Level(totalExperience int64) int {
	if totalExperience <= 0 {
		return 1
	}

	// ThresholdFor(k) ≤ x  ⇔  k(k+1) ≤ ⌊x/50⌋, solve for the largest k.
	q := totalExperience / levelStep
	k := int64((math.Sqrt(float64(4*q+1)) - 1) / 2)

	// Float rounding can be off by one for very large inputs.
	for k > 0 && k*(k+1) > q {
		k--
	}
	for (k+1)*(k+2) <= q {
		k++
	}

	return int(k) + 1
}

// LevelProgress describes where a total sits inside its level.
type LevelProgress struct {
	Level  int   `json:"level"`
	Earned int64 `json:"earned"`
	Needed int64 `json:"needed"`
}

// Percent returns progress through the current level in [0, 100].
func (p LevelProgress) Percent() int {
	if p.Needed <= 0 {
		return 0
	}
	return int(p.Earned * 100 / p.Needed)
}

// Remaining returns the experience still missing for the next level.
func (p LevelProgress) Remaining() int64 {
	return p.Needed - p.Earned
}

// ProgressWithinLevel returns how much of the current level has been earned
// and how much the whole level costs.
func ProgressWithinLevel(totalExperience int64) (earnedInLevel, neededForLevel int64) {
	p := ProgressOf(totalExperience)
	return p.Earned, p.Needed
}

// ProgressOf returns the full LevelProgress for a total.
func ProgressOf(totalExperience int64) LevelProgress {
	if totalExperience < 0 {
		totalExperience = 0
	}
	level := Level(totalExperience)
	floor := ThresholdFor(level - 1)
	return LevelProgress{
		Level:  level,
		Earned: totalExperience - floor,
		Needed: ThresholdFor(level) - floor,
	}
}
