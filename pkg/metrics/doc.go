/*
Package metrics provides Prometheus metrics and component health endpoints.

Release, rollback and approval counters plus duration histograms are
registered at init and exported under the greenlight_ prefix via Handler().
Components (store, orchestrator, api) report their liveness through
RegisterComponent/UpdateComponent, which feeds the /health (liveness) and
/ready (readiness of critical components) handlers.
*/
package metrics
