// Package gateway wires the aiquan-gateway server together.
//
// # Overview
//
// New builds every component from a *config.Config: the store selected by
// database.driver, the credential codec, the audit sink, the rate limiter,
// and the registry, claim and authentication services. Run serves HTTP,
// plus the gRPC health service when server.grpc_addr is set, until its
// context is canceled. Shutdown drains HTTP, stops gRPC, flushes the audit
// queue, and closes the store, in that order.
//
// # HTTP API
//
//   - GET  /health                       liveness with timestamp
//   - GET  /health/ready                 store ping, 503 when unavailable
//   - GET  /metrics                      Prometheus exposition (metrics.path)
//   - POST /api/v1/agents/register       issue credentials, 201
//   - GET  /api/v1/agents/status         bearer secret, pending agents allowed
//   - GET  /api/v1/agents/me             bearer secret, claimed agents only
//   - GET  /api/v1/agents/{name}         bearer secret, public profile
//   - GET  /api/v1/public/agents/stats   total, claimed and pending counts
//   - GET  /api/v1/claim/{token}         claim page data
//   - POST /api/v1/claim/confirm/{token} bind the agent to an owner
//   - GET  /api/v1/admin/audit           admin JWT, audit trail query
//
// Every /api/v1 route shares a per-IP budget, keyed on the socket peer
// unless it is listed in server.trusted_proxies. Registration has its own,
// tighter budget on top.
//
// # Errors
//
// Handlers never write error bodies themselves. They pass the error to
// writeError, which maps package sentinels to a status and a JSON body:
//
//	{"error": "claim_token_expired", "message": "...", "request_id": "..."}
//
// Unexpected errors become 500 internal_error. Their text is included as
// "details" except in production.
package gateway
