package docker

import (
	"fmt"
	"net"
	"strconv"
	"sync"
)

const allocatorMaxScan = 2000

// PortAllocator hands out host ports from a monotonically increasing counter.
// Allocation is serialized process-wide so concurrent deployments never
// receive the same port.
type PortAllocator struct {
	mu    sync.Mutex
	next  int
	probe func(port int) bool
}

// NewPortAllocator returns an allocator starting at base. probe reports
// whether a candidate port is free on the host; nil selects a live bind check.
func NewPortAllocator(base int, probe func(port int) bool) *PortAllocator {
	if base <= 0 {
		base = 3001
	}
	if probe == nil {
		probe = portFree
	}
	return &PortAllocator{next: base, probe: probe}
}

// Allocate returns the next host port that is neither in the used set nor
// bound on the host. used should hold ports already claimed by managed
// containers.
func (a *PortAllocator) Allocate(used map[int]struct{}) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for scanned := 0; scanned < allocatorMaxScan; scanned++ {
		candidate := a.next
		a.next++
		if _, taken := used[candidate]; taken {
			continue
		}
		if !a.probe(candidate) {
			continue
		}
		return candidate, nil
	}
	return 0, fmt.Errorf("no free host port after scanning %d candidates", allocatorMaxScan)
}

func portFree(port int) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}
