// Package api exposes a running load client over HTTP.
//
// Endpoints:
//
//	GET /api/status    running flag, client count, active and connected sessions
//	GET /api/metrics   metrics snapshot
//	GET /api/sessions  per-session state, completed iterations and reconnects
//	/ws                websocket stream of session events and periodic metrics
//
// The server is optional; cmd/kvload starts it only when -status-addr is set.
package api
