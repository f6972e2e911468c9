// Package service holds the server-side room logic of TableSync.
//
//   - SessionManager: room lifecycle, membership, liveness sweeps
//   - Bus: serial, per-room application of mutations and fan-out
//   - PresenceTracker: ephemeral cursor positions
//
// Storage is injected through SessionRegistry and PresenceMirror so that the
// services can be tested with in-memory fakes. All three services take the
// current time as an argument where behavior depends on it.
package service
