// Package model contains the in-memory representation of approval workflow
// instances, their steps and audit history, together with the resolved
// workflow configuration and the caller-facing snapshot read model.
//
// The types are storage-agnostic: DAO implementations persist them as they
// are and the orchestrator is the only component that computes transitions.
package model
