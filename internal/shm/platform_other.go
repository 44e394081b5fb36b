//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package shm

import (
	"context"
)

// MapRegion is not available on this platform.
func MapRegion(ctx context.Context, opts MapOptions) (*MappedRegion, error) {
	return nil, ErrUnsupported
}

// UnmapRegion is a no-op on this platform.
func UnmapRegion(ctx context.Context, region *MappedRegion) error {
	return nil
}
