// Package api documents the EventFlow node HTTP surface.
//
// # API Overview
//
// A node exposes:
//   - Event submission (POST /api/v1/events)
//   - The notification read surface (list, get, seen, claim, progress, resolve)
//   - Quarantine review listing
//   - Cartridge management (invocation counts, staged versions, activate/reject)
//   - Health and readiness probes, version information
//   - The peer mesh WebSocket endpoint (/mesh/v1/ws, bearer JWT)
//
// # Authentication
//
// When server.api_key is configured, /api/v1 endpoints require the X-API-Key
// header:
//
//	X-API-Key: your-api-key
//
// Probes and /metrics are unauthenticated. The mesh endpoint authenticates
// peers with its own HS256 token.
//
// # Base URL
//
// The default base URL for the API is:
//
//	http://localhost:8080
//
// Every JSON response uses the envelope defined in api/handlers:
//
//	{"success": true, "data": {...}, "timestamp": "...", "request_id": "..."}
package api
