// Package handler provides the HTTP request handlers for TableSync.
//
// The REST surface covers room administration only:
//
//   - POST /rooms, GET /rooms, GET /rooms/{id}, POST /rooms/{id}/close
//   - GET /health, GET /ready
//
// Real-time traffic goes over the WebSocket endpoint instead. Every JSON
// body uses the Response envelope.
package handler
