// Package httpserver provides the HTTP/HTTPS server for TableSync.
//
// One listener carries both surfaces:
//
//   - Room endpoints: /rooms, /rooms/{id}, /rooms/{id}/close
//   - WebSocket endpoint: /ws
//   - Health endpoints: /health, /ready, /metrics
//
// Requests pass through the middleware chain Recover, RequestID, CORS,
// RateLimit and Audit before reaching a handler.
package httpserver
