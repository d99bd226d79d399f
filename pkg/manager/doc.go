/*
Package manager wires the tinymistd components into one orchestrator.

# Architecture

	             ┌──────────── MANAGER ─────────────┐
	 open doc ──▶│ scheduler ──▶ fetch ──▶ starter  │
	             │     │                     │      │
	             │  resolver ◀── config.Store │      │
	             │                           ▼      │
	             │            service.Registry      │
	             │                 │                │
	             │         readiness.Waiter ──▶ OnReady
	             │                                  │
	 preview ───▶│ pool (LRU, ports, teardown)      │
	 close doc ─▶│                                  │
	             │ metrics.Collector ◀── Source     │
	             └──────────────────────────────────┘

DocumentOpened never waits for the network. When the binary is already on
disk the language server is started straight away; otherwise the scheduler
starts it once the download completes. In both cases the OnReady callback
runs after the server reports healthy, or with nil after the readiness
timeout.

RequestPreview and DocumentClosed are serialized per document, so two
requests for the same file never spawn two preview servers.

When the config file changes and the binary settings differ, a running
language server is restarted against the newly resolved binary.

# Usage

	store := config.NewStore(path, cfg, broker)
	m, err := manager.New(store, broker, manager.WithOnReady(refresh))
	if err != nil {
		return err
	}
	if err := m.Start(ctx); err != nil {
		return err
	}
	defer m.Shutdown(context.Background())

	m.DocumentOpened(ctx, "/work/thesis/main.typ")
	info, err := m.RequestPreview(ctx, "/work/thesis/main.typ")
*/
package manager
