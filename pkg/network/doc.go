/*
Package network allocates loopback ports for preview servers.

Each preview helper needs two ports, one for the data plane and one for the
control plane. PortAllocator walks a counter upward from 23627 and probes each
candidate by binding and closing it on 127.0.0.1:

	counter ──▶ 23627 busy ──▶ 23628 busy ──▶ 23629 free ──▶ return 23629

The counter never goes back, so two allocations never return the same port
while the range lasts. Past 65535 it wraps to the start port.

If every probe in a round fails, Next returns the last candidate tagged
AllocationFallback. The helper may then fail to bind it; that failure shows up
as a boot error in the pool. There is also a window between the probe and the
helper's own bind in which another process can take the port.
*/
package network
