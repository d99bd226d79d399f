package network

import (
	"fmt"
	"net"
	"strconv"
	"sync/atomic"

	"github.com/cuemby/tinymistd/pkg/log"
	"github.com/cuemby/tinymistd/pkg/metrics"
)

const (
	// DefaultStartPort is the default tinymist preview port
	DefaultStartPort = 23627
	// DefaultMaxProbes is how many ports are tried before giving up
	DefaultMaxProbes = 10

	maxPort = 65535
)

// Allocation tells how a port was chosen
type Allocation string

const (
	// AllocationProbed means the port was free when probed
	AllocationProbed Allocation = "probed"
	// AllocationFallback means every probe failed and the last attempted
	// port is returned anyway. It may still be taken when the caller binds it.
	AllocationFallback Allocation = "fallback"
)

// ProbeFunc reports whether port can be bound
type ProbeFunc func(port int) bool

// PortAllocator hands out ports from a monotonically increasing counter.
// Ports are never returned to the allocator.
type PortAllocator struct {
	start     int
	maxProbes int
	next      atomic.Int64
	probe     ProbeFunc
}

// AllocatorOption configures a PortAllocator
type AllocatorOption func(*PortAllocator)

// WithMaxProbes sets how many ports are probed per allocation
func WithMaxProbes(n int) AllocatorOption {
	return func(a *PortAllocator) {
		if n > 0 {
			a.maxProbes = n
		}
	}
}

// WithProbe replaces the bind-and-close probe
func WithProbe(p ProbeFunc) AllocatorOption {
	return func(a *PortAllocator) { a.probe = p }
}

// NewPortAllocator creates an allocator whose first candidate is start.
// A start of zero or less uses DefaultStartPort.
func NewPortAllocator(start int, opts ...AllocatorOption) *PortAllocator {
	if start <= 0 || start > maxPort {
		start = DefaultStartPort
	}
	a := &PortAllocator{
		start:     start,
		maxProbes: DefaultMaxProbes,
		probe:     ProbePort,
	}
	a.next.Store(int64(start))
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Next probes up to maxProbes candidates and returns the first free one.
// When none is free it returns the last candidate with AllocationFallback.
// That port is not re-checked and may already be bound.
func (a *PortAllocator) Next() (int, Allocation) {
	last := a.start
	for i := 0; i < a.maxProbes; i++ {
		last = a.candidate()
		if a.probe(last) {
			return last, AllocationProbed
		}
	}
	return last, AllocationFallback
}

// Allocate is Next with the fallback logged and counted
func (a *PortAllocator) Allocate() int {
	port, how := a.Next()
	if how == AllocationFallback {
		logger := log.WithComponent("ports")
		logger.Warn().
			Int("port", port).
			Int("probes", a.maxProbes).
			Msg("No free port found, using last candidate")
		metrics.PortFallbacksTotal.Inc()
	}
	return port
}

// candidate takes the next counter value, wrapping back to start past 65535
func (a *PortAllocator) candidate() int {
	n := a.next.Add(1) - 1
	span := int64(maxPort - a.start + 1)
	return a.start + int((n-int64(a.start))%span)
}

// ProbePort binds port on the loopback interface and closes it again
func ProbePort(port int) bool {
	l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}

// HostPort formats a loopback address for port
func HostPort(port int) string {
	return fmt.Sprintf("127.0.0.1:%d", port)
}
