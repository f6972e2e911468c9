// Package shutdown coordinates graceful process termination.
//
// Components register named hooks as they start. On SIGINT, SIGTERM or
// cancellation of the parent context the hooks run in reverse order of
// registration under one shared deadline, so the last thing started is the
// first thing stopped.
package shutdown
