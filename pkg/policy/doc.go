// Package policy screens executable paths and argument strings before any
// process is started on the host.
//
// Invariants:
// - Evaluation is pure and deterministic: no I/O, no logging, no state.
// - Checks run in a fixed order: blocked executables, destructive command
//   signatures, shell argument screening. The first match decides.
// - A decision carries a reason only when the command is denied.
//
// Usage:
//
//	eval := policy.NewEvaluator()
//	decision := eval.Evaluate(`C:\Windows\System32\cmd.exe`, "/c format C: /y")
//	if !decision.Allowed {
//		// decision.Reason names the matched rule
//	}
package policy
