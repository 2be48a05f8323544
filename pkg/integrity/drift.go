package integrity

import "github.com/mnemom/aip/pkg/types"

// driftState tracks the two conditions that can raise a drift alert:
// a run of consecutive non-clear verdicts, or a sustained low
// integrity ratio. Alerts are idempotent — firing while already active
// is a no-op — and clear only on a subsequent clear verdict that lifts
// the ratio back above the threshold.
type driftState struct {
	active              bool
	consecutiveNonClear int
	lowRatioStreak      int
}

const (
	consecutiveNonClearThreshold = 3
	lowRatioThreshold            = 0.5
	lowRatioStreakThreshold      = 5
)

func (d *driftState) observe(verdict types.Verdict, ratio float64) {
	if verdict == types.VerdictClear {
		d.consecutiveNonClear = 0
	} else {
		d.consecutiveNonClear++
	}

	if ratio < lowRatioThreshold {
		d.lowRatioStreak++
	} else {
		d.lowRatioStreak = 0
	}

	switch {
	case d.consecutiveNonClear >= consecutiveNonClearThreshold:
		d.active = true
	case d.lowRatioStreak >= lowRatioStreakThreshold:
		d.active = true
	case verdict == types.VerdictClear && ratio >= lowRatioThreshold:
		d.active = false
	}
}
