/*
Package service supervises long running helper processes, in practice the
tinymist language server (`tinymist lsp`).

A Process moves through these states:

	not_started ──Start──▶ starting ──first healthy check──▶ running
	                          │                                 │
	                          └──────── unexpected exit ────────┴──▶ crashed
	                                                            │
	                                           Stop ────────────┴──▶ stopped

The health check defaults to process liveness and runs every Health.Interval.
Stop closes stdin, sends SIGTERM and kills the process after StopTimeout.

Registry keeps one Process per key and implements Lister for the readiness
package. Starter plugs into the install pipeline: it starts the server for a
new binary and leaves an already running server on the same binary alone.
*/
package service
