// Package approver orchestrates multi-step approval of financial
// transactions.
//
// An approval configuration, resolved from transaction criteria, lists the
// roles that must act and in which order; steps sharing an order form a
// parallel group. The orchestrator creates an instance per transaction,
// authorizes and records approver actions, advances groups exactly once
// under concurrent approvals and finalizes the instance as Approved,
// Rejected or Cancelled. All cross-call serialization happens through the
// store's conditional writes, so several processes may share one store.
//
//	srv, _ := approver.NewFromConfig(ctx, config)
//	res, _ := srv.Initiate(ctx, "tx-1", "erin", criteria)
//	res, _ = srv.Approve(ctx, "tx-1", "manager-1", model.NewActor("alice", "Manager"), "")
//	snapshot, _ := srv.Snapshot(ctx, "tx-1")
//
// Persistence is pluggable (memory, afs files, MySQL), rules are YAML
// documents evaluated with expr, and lifecycle events can be delivered to
// notification consumers through memory or file queues.
package approver
