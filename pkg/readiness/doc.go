// Package readiness waits for a background service to reach the running
// state without blocking the caller forever.
//
// Waiter asks a service.Lister for the handles under a key every 300ms and
// returns the first one that is running. After the timeout (15s by default)
// it returns nil. WaitThen always calls its callback, with the handle or with
// nil, so a refresh that depends on the server still happens when the server
// was slow to come up.
package readiness
