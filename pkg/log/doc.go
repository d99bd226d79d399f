/*
Package log provides structured logging for tinymistd using zerolog.

A single package-level Logger is shared by every component. It discards all
output until Init is called, so library code and tests can log freely without
configuring anything.

# Usage

	log.Init(log.Config{
		Level:      log.ParseLevel(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})

	logger := log.WithComponent("pool")
	logger.Info().
		Str("key", path).
		Int("data_port", port).
		Msg("Preview server started")

Scoped helpers attach the field most components key their output on:

	WithComponent("fetch")        component=fetch
	WithDocument("/a/b.typ")      document=/a/b.typ
	WithServiceKey("/a/b.typ")    service_key=/a/b.typ
	WithVersion("v0.13.12")       version=v0.13.12

# Output

Console output (the default) goes to stderr with RFC3339 timestamps. JSON
output emits one object per line and is what `tinymistd serve --json-logs`
uses when running under a supervisor.
*/
package log
