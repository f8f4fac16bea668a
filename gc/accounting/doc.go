// Package accounting provides the mark bitmaps a garbage collector consults
// on every allocation-slot decision, marking step, and sweep pass.
//
// A SpaceBitmap packs one bit per aligned heap slot into machine words over a
// contiguous address range. Collectors create one bitmap per heap space, set
// and clear bits concurrently from multiple marking threads, scan ranges
// word-at-a-time during root discovery and sweeping, and swap or copy bitmaps
// between collection cycles.
//
// Architecture:
//   - Pure address↔index arithmetic (no per-object metadata)
//   - Atomic fetch-and-modify per bit; lost updates to sibling bits within a
//     word cannot occur
//   - Word-granularity scans with count-trailing-zeros bit extraction
//   - Dual-bitmap SweepWalk reporting live-but-unmarked slots in batches
//   - Backing store is an anonymous memory region (internal/memmap); clearing
//     advises the pages unused so physical memory can be reclaimed
//
// The bitmap treats objects as opaque aligned addresses and never
// dereferences them. Contract violations such as out-of-range accesses are
// programming errors in the collector and panic with diagnostic context
// rather than returning errors.
package accounting
