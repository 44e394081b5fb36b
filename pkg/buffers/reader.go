package buffers

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// cursor is the read position of one color. Positions count segments
// allocated since the buffer was created; the slot of position p is p mod
// SegmentCount.
type cursor struct {
	color Color

	// mu serializes scans of this color, so concurrent readers of one color
	// receive disjoint data.
	mu     sync.Mutex
	pos    atomic.Uint64
	missed atomic.Uint64 // not yet reported to a reader
	total  atomic.Uint64 // all segments ever missed

	detached atomic.Bool

	signal signal
}

func newCursor(color Color, pos uint64) *cursor {
	c := &cursor{color: color}
	c.pos.Store(pos)
	return c
}

// advance moves the cursor forward to pos. It never moves backwards, so the
// reader and an overwriting writer can both push it.
func (c *cursor) advance(pos uint64) {
	for {
		old := c.pos.Load()
		if old >= pos || c.pos.CompareAndSwap(old, pos) {
			return
		}
	}
}

func (c *cursor) miss(n uint64) {
	c.missed.Add(n)
	c.total.Add(n)
}

// Reader is a read handle bound to one color. Data of the color, and global
// data, stays protected from overwrite until the Reader consumed it or was
// detached. One goroutine per Reader is the supported usage.
type Reader struct {
	buf *TransmissionBuffer
	cur *cursor
}

// Color returns the color the reader consumes.
func (r *Reader) Color() Color { return r.cur.color }

// Read copies everything available for the color into w without blocking.
func (r *Reader) Read(w io.Writer) (int64, error) {
	if r.cur.detached.Load() {
		return 0, ErrDetached
	}
	return r.buf.readCursor(w, r.cur)
}

// ReadWait is Read, parking up to timeout when nothing is available.
func (r *Reader) ReadWait(ctx context.Context, timeout time.Duration, w io.Writer) (int64, error) {
	if r.cur.detached.Load() {
		return 0, ErrDetached
	}
	return r.buf.readWait(ctx, timeout, w, r.cur)
}

// Position is the next ring position the reader will examine.
func (r *Reader) Position() uint64 { return r.cur.pos.Load() }

// Missed counts the segments overwritten before this reader consumed them.
func (r *Reader) Missed() uint64 { return r.cur.total.Load() }

// Detach unregisters the reader. Its unread data becomes eligible for
// overwrite and parked ReadWait calls on it return.
func (r *Reader) Detach() {
	r.buf.detach(r.cur)
}
