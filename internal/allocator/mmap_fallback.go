//go:build !unix && !windows

package allocator

// NewPinnedHostUpstream falls back to the general heap on platforms with
// no wired OS-level pinning mechanism in this package.
func NewPinnedHostUpstream() Upstream { return NewHeapUpstream() }

// NewDeviceUpstream falls back to the general heap on platforms with no
// wired accelerator SDK.
func NewDeviceUpstream() Upstream { return NewHeapUpstream() }
