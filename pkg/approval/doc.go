/*
Package approval implements the manual gate a release must pass before the
orchestrator touches the platform.

Decisions (approve, reject) arrive through the API or CLI and are persisted
on the release record before any waiter is woken, so a decision survives a
server restart. Wait parks the caller on an in-memory channel with a
deadline; when the deadline fires first the release is marked expired and
rejected. A decision that races the deadline wins.
*/
package approval
