//go:build unix

package main

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// readInput maps the file into memory read-only, falling back to a plain
// read for non-regular files (pipes, /dev/stdin) or if mmap fails. The
// returned release func unmaps when applicable and is always non-nil.
func readInput(path string) ([]byte, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}

	noop := func() {}
	size := st.Size()
	if !st.Mode().IsRegular() || size == 0 || size != int64(int(size)) {
		data, err := io.ReadAll(f)
		return data, noop, err
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		data, err := io.ReadAll(f)
		return data, noop, err
	}
	return data, func() { _ = unix.Munmap(data) }, nil
}
