// Package api exposes the greenlight control plane as a REST API.
//
// Routes are versioned under /api/v1:
//
//	POST   /api/v1/services                  register a service
//	GET    /api/v1/services                  list services
//	GET    /api/v1/services/{id}             get a service by ID or name
//	POST   /api/v1/services/{id}/releases    create a release (pending approval)
//	GET    /api/v1/services/{id}/releases    list a service's releases
//	POST   /api/v1/services/{id}/rollback    release the previous image
//	GET    /api/v1/releases                  list all releases
//	GET    /api/v1/releases/{id}             get a release
//	POST   /api/v1/releases/{id}/approve     approve a pending release
//	POST   /api/v1/releases/{id}/reject      reject a pending release
//	GET    /api/v1/releases/{id}/events      release audit trail
//
// /metrics, /health and /ready are served unversioned for scrapers and
// probes. All requests are counted and timed per route template.
package api
