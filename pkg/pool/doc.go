/*
Package pool runs one tinymist preview server per open document and keeps
the number of live servers bounded.

# Lifecycle

	Acquire(key)
	  │
	  ├─ live entry ─────────────────────────────▶ return it
	  ├─ exited entry ─▶ drop (preview.crashed)
	  ├─ reserve a slot; while full, tear down oldest (preview.evicted)
	  │
	  ├─ allocate data + control ports
	  ├─ spawn: <tinymist> preview ... --task-id <uuid> <key>
	  └─ poll output every 50ms for the marker
	        ├─ marker seen ─────────────────────▶ register, return
	        ├─ process exited ─┐
	        ├─ boot timeout ───┼─▶ tear down, ErrStartFailed
	        └─ ctx done ───────┘

The registry is an LRU cache sized at Capacity and only ever read with Peek.
Servers still booting hold a slot outside it, so registered plus booting
servers never exceed Capacity. The victim is the registered server with the
earliest StartTime. When every slot is booting, Acquire waits for one of
them to finish or for its context.

# Teardown

Release, eviction, failed boots and Shutdown all use the same stages:

	Graceful ──▶ ForceKill ──▶ OSKill ──▶ Removed
	SIGTERM      Kill()        kill -9 / taskkill
	wait 3s      wait 2s

A stage is skipped as soon as the process is gone. Removed always runs: the
entry leaves the registry even if the process survived, which is logged.
Each entry is claimed by exactly one teardown.

Shutdown tears every server down concurrently and gives up waiting after
ShutdownTimeout (5s by default).

# Sweeping

StartSweeper checks every SweepInterval (30s) for servers whose process
exited on its own and removes them.

# Concurrency

Pool methods are safe for concurrent use, and Acquire calls for different
keys run in parallel. Two Acquire calls for the same key may both spawn a
server, so callers serialize per key.
*/
package pool
