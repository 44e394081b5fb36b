//go:build linux || darwin || freebsd || netbsd || openbsd

package shm

import (
	"context"
	"fmt"

	"golang.org/x/sys/unix"
)

// MapRegion maps a private anonymous region of opts.Size bytes.
func MapRegion(ctx context.Context, opts MapOptions) (*MappedRegion, error) {
	if opts.Size <= 0 {
		return nil, fmt.Errorf("mmap %s: invalid size %d", opts.Name, opts.Size)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !CanMap(uint64(opts.Size)) {
		return nil, fmt.Errorf("mmap %s: %d bytes exceed available memory", opts.Name, opts.Size)
	}
	addr, err := unix.Mmap(-1, 0, opts.Size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", opts.Name, err)
	}
	return &MappedRegion{
		Addr: addr,
		Name: opts.Name,
	}, nil
}

// UnmapRegion unmaps the region. Unmapping twice is a no-op.
func UnmapRegion(ctx context.Context, region *MappedRegion) error {
	if region == nil || region.Addr == nil {
		return nil
	}
	if err := unix.Munmap(region.Addr); err != nil {
		return fmt.Errorf("munmap %s: %w", region.Name, err)
	}
	region.Addr = nil
	return nil
}
