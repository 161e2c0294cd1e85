// Package riskgate is the platform's enforcement boundary for risky tool
// calls. The agent never holds an execute capability — it only emits tool
// calls, and every one of them passes through this gate before anything
// leaves the process. Nothing the agent "believes" about approval state can
// influence the gate: approvals arrive exclusively from the human side.
package riskgate

import (
	"github.com/gatehouse-io/gatehouse/pkg/catalog"
)

// Decision is the gate's verdict for a received tool call
type Decision int

const (
	// DecisionExecute clears the call for immediate execution
	DecisionExecute Decision = iota
	// DecisionConfirm parks the call pending human approval
	DecisionConfirm
)

// Decide is the deterministic transition rule of the state machine:
//
//	destructive        → confirm, always, wildcard included
//	high_write         → confirm unless the caller holds the wildcard
//	read / low_write   → execute immediately
func Decide(risk catalog.RiskLevel, permissions []string) Decision {
	switch risk {
	case catalog.RiskDestructive:
		return DecisionConfirm
	case catalog.RiskHighWrite:
		for _, p := range permissions {
			if p == "*" {
				return DecisionExecute
			}
		}
		return DecisionConfirm
	default:
		return DecisionExecute
	}
}
