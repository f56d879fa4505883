// Package client provides a typed Go client for the greenlight REST API.
//
// All methods take a context and return the decoded API types. Transient
// failures are retried with exponential backoff; non-2xx responses are
// returned as *APIError so callers can branch on the status code.
package client
