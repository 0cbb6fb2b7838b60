package risk

import "sync/atomic"

// KillSwitch is the single global emergency-stop flag spec.md §4.4 names
// as the policy chain's first, highest-priority check. It is shared
// between the Gate (which rejects every new intent while engaged) and
// the Exit Orchestrator (which treats it as an unconditional close-now
// signal for every open position), so both sides observe the same flip
// without a round trip through config reload.
type KillSwitch struct {
	engaged atomic.Bool
}

// NewKillSwitch returns a disengaged switch.
func NewKillSwitch() *KillSwitch {
	return &KillSwitch{}
}

// Engage trips the switch.
func (k *KillSwitch) Engage() {
	k.engaged.Store(true)
}

// Disengage resets the switch, e.g. after an operator acknowledges and
// clears the condition that tripped it.
func (k *KillSwitch) Disengage() {
	k.engaged.Store(false)
}

// Engaged reports the current state.
func (k *KillSwitch) Engaged() bool {
	return k.engaged.Load()
}
