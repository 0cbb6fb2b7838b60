package models

import "time"

// ExitReason is the closed taxonomy of causes the Position Lifecycle
// Engine and Exit Orchestrator recognize, dotted the same way
// RejectionReason is so logs and history rows sort predictably next to
// the risk reasons.
type ExitReason string

const (
	ExitStopMissing     ExitReason = "exit.stop_missing"
	ExitStopLossHit     ExitReason = "exit.stop_loss_hit"
	ExitKillSwitch      ExitReason = "exit.kill_switch"
	ExitTimeStop        ExitReason = "exit.time_stop"
	ExitRiskDegrade     ExitReason = "exit.risk_degrade"
	ExitEVNonPositive   ExitReason = "exit.ev_non_positive"
	ExitSignalReversal  ExitReason = "exit.signal_reversal"
	ExitEmergencyClose  ExitReason = "exit.emergency_close"
)

// exitPriority orders ExitReason highest-priority-first per spec.md
// §4.9. Lower number wins when triggers collide inside a debounce window.
var exitPriority = map[ExitReason]int{
	ExitStopMissing:    0,
	ExitStopLossHit:    1,
	ExitKillSwitch:     2,
	ExitTimeStop:       3,
	ExitRiskDegrade:    4,
	ExitEVNonPositive:  5,
	ExitSignalReversal: 6,
}

// Outranks reports whether r is strictly higher priority than other.
func (r ExitReason) Outranks(other ExitReason) bool {
	return exitPriority[r] < exitPriority[other]
}

// ExitTrigger is one exit condition firing for one open position. A zero
// CloseQty means close the position's full remaining size.
type ExitTrigger struct {
	InstID     string
	StrategyID string
	Reason     ExitReason
	CloseQty   float64
	Detail     string
	FiredAt    time.Time
}
