// Package syncer runs the client side of a TableSync room.
//
// A Syncer owns one ledger and one throttle and drives them from a single
// goroutine (Run): it joins the room, requests a full snapshot, then feeds
// server events into the ledger and local input through the throttle. When
// the connection drops it reconnects with exponential backoff and resyncs
// from a fresh snapshot, discarding whatever was still unconfirmed.
//
// States:
//
//	disconnected -> connecting -> requesting_snapshot -> synced
package syncer
