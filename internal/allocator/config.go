// Package allocator implements the two upstream-backed memory engines that
// sit between a caller requesting raw bytes and a lower-level upstream byte
// source: a coalescing free-list arena and a binary buddy page allocator.
package allocator

// AllocAlign is the fixed alignment the arena engine rounds every request
// and every superblock acquisition up to.
const AllocAlign = 256

// MinSuperblockSize is the floor on an arena's growth quantum.
const MinSuperblockSize uintptr = 1 << 18

// ReservedSize is the margin an arena keeps below its maximum size, so it
// never fully exhausts an upstream with bounded capacity. A maximum size at
// or below ReservedSize is used as the cap as-is (see Arena.budget).
const ReservedSize uintptr = 1 << 26

// MinPageLog2 is the log2 size, in bytes, of the smallest buddy leaf (256 B).
const MinPageLog2 = 8

// NewSuperpageLog2 is the log2 size of a freshly minted superpage (1 MiB)
// when no larger request forces a bigger one.
const NewSuperpageLog2 = 20

// ArenaConfig configures an Arena's construction.
//
// The teacher's functional-options pattern (WithArenaSize, WithAlignment,
// ...) is kept here, narrowed to the two knobs spec.md §6 actually
// enumerates for the arena.
type ArenaConfig struct {
	InitialSize uintptr
	MaxSize     uintptr
	Upstream    Upstream
}

// ArenaOption mutates an ArenaConfig.
type ArenaOption func(*ArenaConfig)

// WithInitialSize sets the arena's first superblock quantum. Omitting it
// (or passing 0) means "use MinSuperblockSize" — this package never
// propagates a math.MaxUint64-style sentinel the way the original
// implementation's default did (see DESIGN.md).
func WithInitialSize(size uintptr) ArenaOption {
	return func(c *ArenaConfig) { c.InitialSize = size }
}

// WithMaxSize sets the arena's total upstream acquisition cap.
func WithMaxSize(size uintptr) ArenaOption {
	return func(c *ArenaConfig) { c.MaxSize = size }
}

// WithUpstream sets the byte source the arena grows from. Required.
func WithUpstream(u Upstream) ArenaOption {
	return func(c *ArenaConfig) { c.Upstream = u }
}

func defaultArenaConfig() *ArenaConfig {
	return &ArenaConfig{
		InitialSize: 0,
		MaxSize:     0,
	}
}

// BuddyConfig configures a BuddyEngine's construction. The buddy engine has
// no user-tunable knobs beyond its upstream (spec.md §6); NewSuperpageLog2
// is exposed purely so tests can exercise small superpages without waiting
// on the 1 MiB default.
type BuddyConfig struct {
	Upstream         Upstream
	NewSuperpageLog2 uint
}

// BuddyOption mutates a BuddyConfig.
type BuddyOption func(*BuddyConfig)

// WithBuddyUpstream sets the byte source the buddy engine grows from. Required.
func WithBuddyUpstream(u Upstream) BuddyOption {
	return func(c *BuddyConfig) { c.Upstream = u }
}

// WithNewSuperpageLog2 overrides the default fresh-superpage size (2^20).
func WithNewSuperpageLog2(log2 uint) BuddyOption {
	return func(c *BuddyConfig) { c.NewSuperpageLog2 = log2 }
}

func defaultBuddyConfig() *BuddyConfig {
	return &BuddyConfig{NewSuperpageLog2: NewSuperpageLog2}
}

// alignUp rounds size up to the next multiple of alignment. alignment must
// be a power of two.
func alignUp(size, alignment uintptr) uintptr {
	return (size + alignment - 1) &^ (alignment - 1)
}
