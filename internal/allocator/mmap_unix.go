//go:build unix

package allocator

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	allocerrors "github.com/vecmem-go/vecmem/internal/errors"
)

// mmapUpstream is an Upstream backed by an anonymous mmap region, the real
// OS-level analogue of spec.md §1's "pinned-host pool" and "device pool"
// upstream kinds. This mirrors the per-OS build-tag split the teacher uses
// for its asyncio pollers (epoll_poller_linux.go, zerocopy_darwin_file.go):
// one real implementation per OS family instead of a single lowest-common-
// denominator one.
type mmapUpstream struct {
	mu      sync.Mutex
	regions map[unsafe.Pointer][]byte
}

func newMmapUpstream() *mmapUpstream {
	return &mmapUpstream{regions: make(map[unsafe.Pointer][]byte)}
}

// NewPinnedHostUpstream returns an Upstream that acquires anonymous,
// page-backed host memory via mmap. It approximates a pinned-host pool: a
// real pinning implementation would additionally mlock(2) the region,
// which this package does not attempt in order to stay usable without
// elevated privileges or a raised RLIMIT_MEMLOCK.
func NewPinnedHostUpstream() Upstream { return newMmapUpstream() }

// NewDeviceUpstream returns an Upstream standing in for a device memory
// pool. On a host with no accelerator SDK wired in, this is backed by the
// same anonymous mmap mechanism as NewPinnedHostUpstream; a real device
// backend would swap this constructor for one built on the vendor SDK
// while keeping the same Upstream contract.
func NewDeviceUpstream() Upstream { return newMmapUpstream() }

func (m *mmapUpstream) Allocate(bytes, alignment uintptr) (unsafe.Pointer, error) {
	if bytes == 0 {
		return nil, allocerrors.OutOfMemory(0, 0, "mmapUpstream.Allocate")
	}

	// Over-allocate so we can return an interior pointer aligned to the
	// caller's request; mmap itself only guarantees page alignment.
	length := int(bytes + alignment)

	region, err := unix.Mmap(-1, 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("%w: mmap failed: %v", allocerrors.OutOfMemory(bytes, 0, "mmapUpstream.Allocate"), err)
	}

	base := uintptr(unsafe.Pointer(&region[0]))
	aligned := alignUp(base, alignment)
	ptr := unsafe.Pointer(aligned)

	m.mu.Lock()
	m.regions[ptr] = region
	m.mu.Unlock()

	return ptr, nil
}

func (m *mmapUpstream) Deallocate(ptr unsafe.Pointer, _, _ uintptr) {
	m.mu.Lock()
	region, ok := m.regions[ptr]
	delete(m.regions, ptr)
	m.mu.Unlock()

	if ok {
		_ = unix.Munmap(region)
	}
}

func (m *mmapUpstream) IsEqual(other Upstream) bool {
	o, ok := other.(*mmapUpstream)

	return ok && o == m
}
