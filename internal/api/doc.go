// ABOUTME: Package api exposes the admin service over HTTP
// ABOUTME: JSON handlers on echo with error-to-status mapping

// Package api serves the administrative REST interface.
//
// Every response body is a JSON object carrying at least "success" and
// "message". Store errors map to statuses as follows: store.ErrNotFound is
// 404, store.ErrValidation is 400, store.ErrStoreUnavailable is 503 and
// anything else is 500.
package api
