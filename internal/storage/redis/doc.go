// Package redis mirrors cursor presence into Redis so processes outside the
// sync server (dashboards, bots, a second read-only server) can see where
// everyone is pointing.
//
// Each record lives at <prefix><room>:<actor> as JSON with a TTL equal to
// the fade timeout, and every update is also published on
// <prefix>events:<room>. The in-memory tracker remains authoritative; the
// mirror is best effort.
package redis
