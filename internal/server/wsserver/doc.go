// Package wsserver is the server side of the TableSync WebSocket transport.
//
// Each connection is one member of one room:
//
//   - the first frame must be a join; the reply is a joined event
//   - submit frames are queued on the bus, outcomes arrive via the mailbox
//   - request_full_sync, presence, heartbeat and leave are answered inline
//
// A single writer goroutine drains the member's mailbox, so every frame
// the client sees is in the order the room produced it. When the mailbox
// closes (overflow, rejoin elsewhere, room closure) the connection closes
// with it and the client resynchronizes from a snapshot.
package wsserver
