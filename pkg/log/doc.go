/*
Package log provides structured logging for Greenlight built on zerolog.

A single global logger is initialized once at process start via Init and
consumed through small helpers. Components derive child loggers carrying
stable fields (component, service, release_id) so every line emitted while
driving a release can be correlated back to it.

Console output (human-readable, RFC3339 timestamps) is the default; JSON
output is used when running as a daemon behind log collection.
*/
package log
