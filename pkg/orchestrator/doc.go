// Package orchestrator drives blue/green releases from approval to a
// terminal state.
//
// Each service owns two slot deployments, blue and green. A release
// deploys the new image into the idle slot, waits for it to become
// ready, flips the fronting service's label selector, drains the old
// slot, observes the live endpoint for a health window, and finally
// promotes. Any failure after traffic has moved triggers a compensating
// rollback that restores the selector and scales the old slot back up.
//
// # Release Lifecycle
//
//	pending-approval ──> approved ──> applying ──> waiting-ready
//	        │                                           │
//	        v                                           v
//	    rejected                                    switching ──> draining ──> observing
//	                                                    │             │            │
//	                         failed <───────────────────┤             v            v
//	                  (before traffic moved)            │        rolling-back   promoted
//	                                                    │             │
//	                                                    v             v
//	                                               rolling-back   rolled-back / rollback-failed
//
// A pickup loop scans the store for releases parked at the approval
// gate and spawns one driver goroutine per service, so a service never
// has two releases mutating the platform at once. Every state
// transition is persisted before the action it gates runs; after a
// restart, releases found mid-flight are reported as failed rather
// than resumed, because the platform may have moved underneath us.
//
// Rollback is attempted exactly once. If the compensating path itself
// fails the release ends in rollback-failed and an operator has to
// intervene; the orchestrator never retries a rollback on its own.
package orchestrator
