/*
Package health provides the checks tinymistd runs against the processes it
supervises.

Three checkers implement the Checker interface:

	┌──────────────────────────────────────────────┐
	│              Checker interface               │
	│   Check(ctx) Result        Type() CheckType  │
	└──────┬──────────────────┬───────────────┬────┘
	       ▼                  ▼               ▼
	 ┌───────────┐     ┌────────────┐   ┌──────────┐
	 │   Exec    │     │  Process   │   │   TCP    │
	 │  Checker  │     │  Checker   │   │ Checker  │
	 └───────────┘     └────────────┘   └──────────┘
	 run argv, keep     Alive() on a    dial a preview
	 stdout/stderr      managed child   server port

ExecChecker backs the version probe (`tinymist -V`). Unlike a plain pass/fail
check it always returns the captured output and exit code, because the caller
needs to parse the version string and map failure text to a user message:

	r := health.NewExecChecker([]string{bin, "-V"}).
		WithDir(filepath.Dir(bin)).
		Check(ctx)
	if r.Healthy {
		v, ok := types.ParseToolVersion(r.Stdout)
		...
	}

ExitCode is -1 when the command could not be started or was killed on
timeout; Err then wraps context.DeadlineExceeded or the exec error.

ProcessChecker drives the language server state machine in package service.
TCPChecker is used by the admin API to report whether a preview server's
ports accept connections.

# Status

Status folds a stream of Results into a health verdict. A status starts
unhealthy and becomes healthy on the first success. After that it turns
unhealthy once Config.Retries consecutive failures are seen, ignoring failures
inside Config.StartPeriod.
*/
package health
