package memmap

import (
	"fmt"
	"os"
	"sync/atomic"
)

// Region is a zero-initialized block of anonymous memory. The backing pages
// belong to the region until Release is called; afterwards every accessor
// panics rather than touching unmapped memory.
type Region struct {
	name     string
	data     []byte
	unmap    func([]byte) error
	released atomic.Bool
}

// NewAnonymous maps a zero-initialized anonymous region of the given size.
// The returned memory is at least word-aligned (page-aligned on platforms
// with a real mapping syscall).
func NewAnonymous(name string, size int) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("memmap: region %q: size must be positive, got %d", name, size)
	}

	data, unmap, err := osMapAnon(size)
	if err != nil {
		return nil, fmt.Errorf("memmap: map %d bytes for region %q: %w", size, name, err)
	}

	return &Region{name: name, data: data, unmap: unmap}, nil
}

// Name returns the diagnostic label the region was created with.
func (r *Region) Name() string {
	return r.name
}

// Size returns the mapped size in bytes. Valid even after Release.
func (r *Region) Size() int {
	return len(r.data)
}

// Released reports whether Release has been called.
func (r *Region) Released() bool {
	return r.released.Load()
}

// Bytes returns the mapped memory. It panics if the region has been released.
func (r *Region) Bytes() []byte {
	if r.released.Load() {
		panic(fmt.Sprintf("memmap: use of released region %q", r.name))
	}
	return r.data
}

// Release unmaps the region. It is safe to call more than once; only the
// first call does the work.
func (r *Region) Release() error {
	if !r.released.CompareAndSwap(false, true) {
		return nil
	}
	if r.unmap == nil {
		return nil
	}
	return r.unmap(r.data)
}

// DontNeed advises the OS that [off, off+n) no longer needs physical backing.
// The advice is shrunk inward to whole pages so bytes outside the range are
// never affected. Callers must treat advised pages as zeroed: on some
// platforms the kernel discards their contents.
func (r *Region) DontNeed(off, n int) error {
	if r.released.Load() {
		panic(fmt.Sprintf("memmap: use of released region %q", r.name))
	}
	if off < 0 || n < 0 || off+n > len(r.data) {
		return fmt.Errorf("memmap: region %q: advise range [%d, %d) outside mapping of %d bytes",
			r.name, off, off+n, len(r.data))
	}

	page := os.Getpagesize()
	start := alignUp(off, page)
	end := alignDown(off+n, page)
	if start >= end {
		return nil
	}
	return osDontNeed(r.data[start:end])
}

func alignUp(v, align int) int {
	return (v + align - 1) / align * align
}

func alignDown(v, align int) int {
	return v / align * align
}
