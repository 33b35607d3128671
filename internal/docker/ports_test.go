package docker

import (
	"sync"
	"testing"
)

func TestPortAllocatorSkipsUsedAndBound(t *testing.T) {
	bound := map[int]bool{3002: true}
	alloc := NewPortAllocator(3001, func(port int) bool { return !bound[port] })

	used := map[int]struct{}{3001: {}}
	port, err := alloc.Allocate(used)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	// 3001 is claimed by a container label, 3002 is bound on the host.
	if port != 3003 {
		t.Fatalf("expected port 3003, got %d", port)
	}
}

func TestPortAllocatorConcurrentDistinct(t *testing.T) {
	alloc := NewPortAllocator(4000, func(int) bool { return true })

	const workers = 32
	var (
		mu    sync.Mutex
		seen  = make(map[int]struct{})
		wg    sync.WaitGroup
		fails = 0
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			port, err := alloc.Allocate(nil)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				fails++
				return
			}
			if _, dup := seen[port]; dup {
				t.Errorf("port %d allocated twice", port)
			}
			seen[port] = struct{}{}
		}()
	}
	wg.Wait()
	if fails > 0 {
		t.Fatalf("%d allocations failed", fails)
	}
	if len(seen) != workers {
		t.Fatalf("expected %d distinct ports, got %d", workers, len(seen))
	}
}

func TestPortAllocatorExhaustion(t *testing.T) {
	alloc := NewPortAllocator(5000, func(int) bool { return false })
	if _, err := alloc.Allocate(nil); err == nil {
		t.Fatal("expected error when no port is free")
	}
}
