// Package shm maps the off-heap regions backing direct transmission buffers.
package shm

import (
	"errors"

	"github.com/shirou/gopsutil/v3/mem"
)

// ErrUnsupported is returned by MapRegion on platforms without anonymous mmap.
var ErrUnsupported = errors.New("shm: anonymous mapping not supported on this platform")

// MappedRegion represents a memory-mapped region.
type MappedRegion struct {
	Addr []byte
	Name string
}

// MapOptions defines options for mapping a region.
type MapOptions struct {
	// Name only labels the region in logs and dumps; mappings are anonymous.
	Name string
	Size int
}

// CanMap reports whether size bytes fit in the memory currently available.
// When the memory statistics cannot be read it assumes the mapping fits and
// lets mmap decide.
func CanMap(size uint64) bool {
	stat, err := mem.VirtualMemory()
	if err != nil {
		return true
	}
	return size <= stat.Available
}

// Function implementations are provided in platform-specific files (platform_unix.go, platform_other.go).
