// Package events provides an in-process pub/sub broker for release
// lifecycle events. The orchestrator publishes a typed event at every
// state transition; subscribers (the audit recorder, a future notifier)
// receive them on buffered channels and are skipped rather than blocked
// when their buffer is full.
package events
