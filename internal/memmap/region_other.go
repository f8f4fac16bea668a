//go:build !unix && !windows

package memmap

import "unsafe"

// alignment for the fallback allocation. Callers reinterpret the region as
// word arrays, so the start address must be at least word-aligned.
const fallbackAlignment = 64

func osMapAnon(size int) ([]byte, func([]byte) error, error) {
	// Allocate size + alignment so an aligned start offset always exists.
	buf := make([]byte, size+fallbackAlignment)

	addr := uintptr(unsafe.Pointer(&buf[0]))
	offset := (fallbackAlignment - (addr & (fallbackAlignment - 1))) & (fallbackAlignment - 1)

	// No unmap: the garbage collector reclaims the buffer once the region
	// drops its reference.
	return buf[offset : offset+uintptr(size)], nil, nil
}

func osDontNeed(data []byte) error {
	// No reclamation hint available; zero the range so the region behaves
	// like a discarded anonymous mapping.
	clear(data)
	return nil
}
