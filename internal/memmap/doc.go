// Package memmap provides the anonymous memory regions that back heap
// accounting structures such as mark bitmaps.
//
// Architecture:
//   - Anonymous, zero-initialized, page-aligned mappings on unix (mmap) and
//     windows (VirtualAlloc), with a plain heap-allocated fallback elsewhere
//   - Best-effort physical page reclamation via DontNeed (madvise) without
//     releasing the virtual mapping
//   - A released flag so handles that share a region can detect
//     use-after-release instead of touching unmapped memory
package memmap
