/*
Package health implements endpoint health checking and the post-cutover
observation gate.

Three checker types cover the usual probes:

	HTTP  - request a URL, accept a configurable status range (default 200-399)
	TCP   - open a connection, success means healthy
	Exec  - run an external command, exit code 0 means healthy

Checkers implement a single-method Check(ctx) interface so gates and tests
can substitute their own. FromSpec builds the right checker from a service's
declarative health check spec.

# Observation gate

After traffic is switched to a new slot, the orchestrator runs a Gate for the
configured observation window:

	┌─────────────────────── Gate.Run ────────────────────────┐
	│                                                          │
	│  every Interval:  Check ──▶ Status.Update                │
	│                               │                          │
	│         ConsecutiveFailures ≥ threshold? ──▶ FAIL (fast) │
	│                                                          │
	│  window elapsed:  ≥1 success ever? ──▶ PASS else FAIL    │
	└──────────────────────────────────────────────────────────┘

A gate failure is what triggers the compensating rollback.
*/
package health
