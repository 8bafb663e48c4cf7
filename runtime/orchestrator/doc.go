// Package orchestrator implements the approval state machine. It initiates
// instances, applies approver actions and settles group completion using only
// the conditional operations of the store, so any number of callers may act
// on the same instance concurrently.
package orchestrator
