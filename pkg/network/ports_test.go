package network

import (
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPortAllocatorSequence(t *testing.T) {
	a := NewPortAllocator(0, WithProbe(func(int) bool { return true }))

	for _, want := range []int{23627, 23628, 23629} {
		port, how := a.Next()
		assert.Equal(t, want, port)
		assert.Equal(t, AllocationProbed, how)
	}
}

func TestPortAllocatorSkipsBusyPorts(t *testing.T) {
	busy := map[int]bool{30000: true, 30001: true}
	a := NewPortAllocator(30000, WithProbe(func(p int) bool { return !busy[p] }))

	port, how := a.Next()
	assert.Equal(t, 30002, port)
	assert.Equal(t, AllocationProbed, how)
}

func TestPortAllocatorFallback(t *testing.T) {
	var probed []int
	a := NewPortAllocator(40000, WithMaxProbes(3), WithProbe(func(p int) bool {
		probed = append(probed, p)
		return false
	}))

	port, how := a.Next()
	assert.Equal(t, AllocationFallback, how)
	assert.Equal(t, 40002, port)
	assert.Equal(t, []int{40000, 40001, 40002}, probed)

	assert.Equal(t, 40005, a.Allocate())
}

func TestPortAllocatorWraps(t *testing.T) {
	a := NewPortAllocator(65534, WithProbe(func(int) bool { return true }))

	var got []int
	for i := 0; i < 4; i++ {
		p, _ := a.Next()
		got = append(got, p)
	}
	assert.Equal(t, []int{65534, 65535, 65534, 65535}, got)
}

func TestPortAllocatorConcurrentUnique(t *testing.T) {
	a := NewPortAllocator(20000, WithProbe(func(int) bool { return true }))

	const n = 100
	ports := make(chan int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, _ := a.Next()
			ports <- p
		}()
	}
	wg.Wait()
	close(ports)

	seen := map[int]bool{}
	for p := range ports {
		assert.False(t, seen[p], "port %d handed out twice", p)
		seen[p] = true
	}
	assert.Len(t, seen, n)
}

func TestProbePort(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port

	assert.False(t, ProbePort(port), "port held by listener")

	require.NoError(t, l.Close())
	assert.True(t, ProbePort(port))
}

func TestHostPort(t *testing.T) {
	assert.Equal(t, "127.0.0.1:23627", HostPort(23627))
}
