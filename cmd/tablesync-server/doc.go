// Package main provides the entry point for tablesync-server.
//
// The server is the authority for every room it hosts. It exposes:
//
//   - GET /ws for members (WebSocket, JSON or CBOR frames)
//   - /rooms for creating, listing and closing rooms over HTTP
//   - /health, /ready and /metrics for operators
//
// Usage:
//
//	tablesync-server [--config tablesync.yaml] [--addr 0.0.0.0:7480] [--log-level debug]
//
// Configuration is read from the file, then TABLESYNC_* environment
// variables, then flags. Editing the file while the server runs reloads
// the log level and the session, sync and presence tunables.
package main
