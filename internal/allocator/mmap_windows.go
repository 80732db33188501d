//go:build windows

package allocator

import (
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"

	allocerrors "github.com/vecmem-go/vecmem/internal/errors"
)

// mmapUpstream is an Upstream backed by VirtualAlloc, the Windows analogue
// of the unix mmap-backed implementation in mmap_unix.go.
type mmapUpstream struct {
	mu      sync.Mutex
	regions map[unsafe.Pointer]uintptr // aligned ptr -> base VirtualAlloc address
}

func newMmapUpstream() *mmapUpstream {
	return &mmapUpstream{regions: make(map[unsafe.Pointer]uintptr)}
}

// NewPinnedHostUpstream returns an Upstream backed by VirtualAlloc,
// standing in for a pinned-host pool.
func NewPinnedHostUpstream() Upstream { return newMmapUpstream() }

// NewDeviceUpstream returns an Upstream standing in for a device memory
// pool; see the unix implementation's doc comment for the same caveat.
func NewDeviceUpstream() Upstream { return newMmapUpstream() }

func (m *mmapUpstream) Allocate(bytes, alignment uintptr) (unsafe.Pointer, error) {
	if bytes == 0 {
		return nil, allocerrors.OutOfMemory(0, 0, "mmapUpstream.Allocate")
	}

	length := bytes + alignment

	base, err := windows.VirtualAlloc(0, length, windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return nil, allocerrors.OutOfMemory(bytes, 0, "mmapUpstream.Allocate")
	}

	aligned := alignUp(base, alignment)
	ptr := unsafe.Pointer(aligned)

	m.mu.Lock()
	m.regions[ptr] = base
	m.mu.Unlock()

	return ptr, nil
}

func (m *mmapUpstream) Deallocate(ptr unsafe.Pointer, _, _ uintptr) {
	m.mu.Lock()
	base, ok := m.regions[ptr]
	delete(m.regions, ptr)
	m.mu.Unlock()

	if ok {
		_ = windows.VirtualFree(base, 0, windows.MEM_RELEASE)
	}
}

func (m *mmapUpstream) IsEqual(other Upstream) bool {
	o, ok := other.(*mmapUpstream)

	return ok && o == m
}
