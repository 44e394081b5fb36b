package buffers

import (
	"context"
	"errors"
	"fmt"
	"sync"

	internalshm "github.com/srediag/txbuf/internal/shm"
)

type directStorage struct {
	segmentTable

	mu     sync.Mutex
	region *internalshm.MappedRegion
}

// NewDirectStorage maps count slots of payloadSize bytes outside the Go heap.
func NewDirectStorage(ctx context.Context, name string, count, payloadSize int) (Storage, error) {
	stride, size, err := storageSize(count, payloadSize)
	if err != nil {
		return nil, err
	}
	region, err := internalshm.MapRegion(ctx, internalshm.MapOptions{Name: name, Size: size})
	if err != nil {
		if errors.Is(err, internalshm.ErrUnsupported) {
			return nil, fmt.Errorf("%w: %v", ErrDirectUnsupported, err)
		}
		return nil, err
	}
	return &directStorage{
		segmentTable: segmentTable{
			mem:    region.Addr,
			stride: stride,
			count:  count,
		},
		region: region,
	}, nil
}

func (d *directStorage) Direct() bool { return true }

func (d *directStorage) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.region == nil {
		return nil
	}
	err := internalshm.UnmapRegion(context.Background(), d.region)
	d.region = nil
	d.mem = nil
	return err
}
