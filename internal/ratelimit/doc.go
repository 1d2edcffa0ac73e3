// Package ratelimit throttles requests per client key over fixed windows.
//
// Two backends implement Limiter:
//
//   - Memory: a bounded in-process table, for single-instance deployments.
//   - Redis: counters shared by every gateway instance.
//
// Middleware applies a Rule to each request, sets the X-RateLimit-* headers,
// and hands rejected requests to the caller's handler. A backend error fails
// open so an unavailable Redis does not take registration down with it.
package ratelimit
