package models

import "time"

// StrategyKind names the signal-generation family a profile parameterizes.
type StrategyKind string

const (
	StrategyKindMA       StrategyKind = "moving_average"
	StrategyKindDonchian StrategyKind = "donchian"
	StrategyKindEMARSI   StrategyKind = "ema_rsi"
)

// StrategyProfile is one versioned parameterization of a strategy. Runtime
// edits never mutate a live profile in place: StrategyCatalog forks a new
// Version carrying the edited parameters so that any position already open
// under the prior version keeps referencing the parameters it was opened
// under (its ExpectancyAtEntry and indicator state stay meaningful).
type StrategyProfile struct {
	StrategyID  string
	Version     int
	Label       string
	SourceTag   string
	Kind        StrategyKind
	FastPeriod  int
	SlowPeriod  int
	MinTicksBetweenSignals int64
	CreatedAt   time.Time
	// IsCustom marks profiles forked at runtime (source tags "c01", "c02",
	// ...) as opposed to the fixed config/fast/slow built-ins ("cfg"/"fst"/"slw").
	IsCustom bool
}

// PeriodsTuple returns the three parameters that define this profile's
// indicator windows and signal debounce.
func (p StrategyProfile) PeriodsTuple() (fast, slow int, minTicks int64) {
	return p.FastPeriod, p.SlowPeriod, p.MinTicksBetweenSignals
}

// NormalizePeriods clamps fast/slow into a valid relationship: fast is at
// least 2, slow is always strictly greater than fast.
func NormalizePeriods(fast, slow int) (int, int) {
	if fast < 2 {
		fast = 2
	}
	if slow < fast+1 {
		slow = fast + 1
	}
	return fast, slow
}
