// Package policy decides whether an actor may act on an approval step. The
// default policy forbids the initiator from acting on any step of their own
// instance; a per-call policy can be attached to the context.
package policy
