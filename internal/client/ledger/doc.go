// Package ledger keeps a client's speculative view of room state.
//
// The ledger holds two layers per entity: the confirmed base, the last value
// the server vouched for, and the visible value, which is the base with the
// client's own unconfirmed mutations replayed on top. Confirmations,
// rejections and remote applies advance the base; pending actions are
// resolved by action ID, purged when they go stale, or discarded wholesale
// when a snapshot replaces the working copy.
package ledger
