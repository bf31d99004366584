//go:build darwin

package mmap

import (
	"syscall"
	"unsafe"
)

// Chunk files are written once and then mapped read-only, so the only
// protection and mapping modes the package needs are PROT_READ and
// MAP_SHARED. The darwin syscall package exports no MADV_* constants;
// the values below match <sys/mman.h>.
const (
	ProtRead  = syscall.PROT_READ
	MapShared = syscall.MAP_SHARED

	MadvSequential = 2
	MadvWillneed   = 3
)

func mmap(fd int, offset int64, length int, prot int, flags int) ([]byte, error) {
	return syscall.Mmap(fd, offset, length, prot, flags)
}

func munmap(b []byte) error {
	return syscall.Munmap(b)
}

// madvise is issued through Syscall because the darwin syscall package
// has no Madvise wrapper.
func madvise(b []byte, advice int) error {
	if len(b) == 0 {
		return nil
	}
	_, _, errno := syscall.Syscall(syscall.SYS_MADVISE,
		uintptr(unsafe.Pointer(&b[0])), uintptr(len(b)), uintptr(advice))
	if errno != 0 {
		return errno
	}
	return nil
}
