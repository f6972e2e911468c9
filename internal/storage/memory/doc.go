// Package memory provides the in-process room registry for TableSync.
//
// Rooms are held in a sharded map keyed by room ID, with a secondary index
// from host actor to hosted rooms. The registry only tracks which rooms
// exist; each room guards its own contents with its own lock.
package memory
