/*
Package storage provides persistent state storage for the orchestrator.

All orchestrator state lives in a single embedded BoltDB file, one bucket per
record type with JSON-encoded values:

	┌──────────────────────────────────────────────┐
	│               greenlight.db                  │
	│                                              │
	│  services   service ID  → Service JSON       │
	│  releases   release ID  → Release JSON       │
	│  events     release/ts  → Event JSON         │
	└──────────────────────────────────────────────┘

Writes are upserts. Every release state transition is persisted before the
platform action it gates is taken, which lets a restarted orchestrator report
the honest last-known state of in-flight releases.

Release history is bounded: PruneReleases keeps the newest N terminal releases
per service and drops older ones together with their event trail.
*/
package storage
