// Package protocol defines the TableSync WebSocket wire format.
//
// Clients send ClientMessage frames; the server answers with domain.Event
// frames. Two encodings are negotiated through the WebSocket subprotocol:
//
//   - tablesync.json.v1: JSON text frames (default)
//   - tablesync.cbor.v1: deterministic CBOR binary frames
//
// Both encodings use the same field names.
package protocol
