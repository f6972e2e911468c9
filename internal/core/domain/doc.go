// Package domain defines the core domain models for TableSync.
//
// Domain models are plain values and entities without IO dependencies.
// This package contains:
//
//   - Room: a shared session with its roster and canonical entity table
//   - Member: a roster entry with role and liveness state
//   - Entity: a positionable object whose canonical value lives on the server
//   - Mutation: the closed set of state changes and their pure application
//   - Event / Mailbox: server-to-client messages and their bounded queue
//   - Errors: coded domain errors and their kinds
//
// Canonical entity state is a function of the ordered sequence of applied
// mutations; entity versions only ever increase, including across removal
// and re-creation of the same ID.
package domain
