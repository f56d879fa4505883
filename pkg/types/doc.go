/*
Package types defines the core data structures shared across Greenlight.

Greenlight manages services that run as a pair of platform deployments, one
per slot color (blue and green). At any moment exactly one slot serves live
traffic; a Release records one attempted cutover from the active slot to the
other, together with the manual approval decision that gated it and the state
it reached.

# Release lifecycle

	pending-approval ──▶ approved ──▶ applying ──▶ waiting-ready
	        │                                            │
	        ▼                                            ▼
	    rejected                                     switching
	                                                     │
	                                                     ▼
	                                 draining ──▶ observing ──▶ promoted
	                                     │            │
	                                     └──────┬─────┘
	                                            ▼
	                              rolling-back ──▶ rolled-back
	                                            └─▶ rollback-failed

Failures before the traffic switch terminate in "failed" (only the new slot
has to be cleaned up); failures after the switch go through the compensating
rollback path. A rollback is attempted once; if it fails the release ends in
"rollback-failed" and requires operator intervention.

All fields use standard Go types so they can be marshaled directly to JSON
for storage and the HTTP API.
*/
package types
