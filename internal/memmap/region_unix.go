//go:build unix

package memmap

import (
	"golang.org/x/sys/unix"
)

func osMapAnon(size int) ([]byte, func([]byte) error, error) {
	prot := unix.PROT_READ | unix.PROT_WRITE
	flags := unix.MAP_ANON | unix.MAP_PRIVATE

	data, err := unix.Mmap(-1, 0, size, prot, flags)
	if err != nil {
		return nil, nil, err
	}

	return data, unix.Munmap, nil
}

func osDontNeed(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	err := unix.Madvise(data, unix.MADV_DONTNEED)
	if err == unix.EINVAL {
		// Likely a page alignment issue - the hint is advisory, ignore it.
		return nil
	}
	return err
}
