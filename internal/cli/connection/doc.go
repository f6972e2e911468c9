// Package connection talks to a TableSync server on behalf of the CLI.
//
//   - http.go: JSON client for the room API and its response envelope
//   - rooms.go: typed room and probe calls
//   - ws.go: WebSocket dialers derived from the same server URL
package connection
