// Package throttle coalesces high-frequency local mutations before they
// reach the ledger.
//
// One window is kept per (entity, actor). The first offer in an idle window
// is forwarded at once and opens the window; later offers only replace the
// pending value, which is forwarded when the window ends. A final offer,
// such as the end of a drag, is forwarded immediately regardless of window
// state.
//
// Time is supplied by the caller, so the package has no timers of its own.
package throttle
