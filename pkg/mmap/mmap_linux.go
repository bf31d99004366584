//go:build linux

package mmap

import "syscall"

// Chunk files are written once and then mapped read-only, so the only
// protection and mapping modes the package needs are PROT_READ and
// MAP_SHARED.
const (
	ProtRead  = syscall.PROT_READ
	MapShared = syscall.MAP_SHARED

	MadvSequential = syscall.MADV_SEQUENTIAL
	MadvWillneed   = syscall.MADV_WILLNEED
)

func mmap(fd int, offset int64, length int, prot int, flags int) ([]byte, error) {
	return syscall.Mmap(fd, offset, length, prot, flags)
}

func munmap(b []byte) error {
	return syscall.Munmap(b)
}

func madvise(b []byte, advice int) error {
	return syscall.Madvise(b, advice)
}
