package buffers

import "fmt"

// Storage holds the fixed set of segment slots of a buffer. Implementations
// differ only in where the memory lives; the ring and color logic never
// depends on the backend.
type Storage interface {
	// Segment returns slot i: the header followed by the payload area.
	Segment(i int) []byte
	// Segments is the number of slots.
	Segments() int
	// Stride is the byte size of one slot.
	Stride() int
	// Direct reports whether the memory lives outside the Go heap.
	Direct() bool
	// Close releases the memory. Slots must not be used afterwards.
	Close() error
}

// segmentTable splits one contiguous region into equally strided slots.
type segmentTable struct {
	mem    []byte
	stride int
	count  int
}

func (t *segmentTable) Segment(i int) []byte {
	off := i * t.stride
	return t.mem[off : off+t.stride : off+t.stride]
}

func (t *segmentTable) Segments() int { return t.count }

func (t *segmentTable) Stride() int { return t.stride }

func storageSize(count, payloadSize int) (int, int, error) {
	if count <= 0 || payloadSize <= 0 {
		return 0, 0, fmt.Errorf("%w: %d segments of %d bytes", ErrInvalidConfig, count, payloadSize)
	}
	stride := segmentStride(payloadSize)
	if count > maxStorageBytes/stride {
		return 0, 0, fmt.Errorf("%w: %d segments of %d bytes exceed %d bytes", ErrInvalidConfig, count, payloadSize, maxStorageBytes)
	}
	return stride, count * stride, nil
}

type heapStorage struct {
	segmentTable
}

// NewHeapStorage allocates count slots of payloadSize bytes on the Go heap.
func NewHeapStorage(count, payloadSize int) (Storage, error) {
	stride, size, err := storageSize(count, payloadSize)
	if err != nil {
		return nil, err
	}
	return &heapStorage{segmentTable{
		mem:    make([]byte, size),
		stride: stride,
		count:  count,
	}}, nil
}

func (h *heapStorage) Direct() bool { return false }

func (h *heapStorage) Close() error { return nil }
