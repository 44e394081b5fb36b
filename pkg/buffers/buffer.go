package buffers

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/valyala/bytebufferpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/srediag/txbuf/internal/logging"
	"github.com/srediag/txbuf/pkg/audit"
)

// TransmissionBuffer is a fixed ring of segments shared by many producers
// and many color-partitioned consumers.
//
// A write of n bytes takes ceil(n/SegmentSize) consecutive slots, tagged with
// the write's color and chained head to tail. A read of color C returns, in
// write order, every chain tagged C or global that was published since C's
// cursor. Writers serialize on one mutex; readers take one slot read-lock at
// a time and never block readers of other colors.
type TransmissionBuffer struct {
	config  Config
	storage Storage
	count   uint64
	locks   []sync.RWMutex

	writeMu  sync.Mutex
	writePos atomic.Uint64 // published; positions below it hold complete chains
	sequence atomic.Uint64

	cursors cmap.ConcurrentMap[uint64, *cursor]
	colors  *ColorAllocator

	// readFloor is the furthest position any reader has consumed up to.
	// With no cursor registered, global data at or above it is unread.
	readFloor atomic.Uint64
	// lost counts, per color, segments overwritten while the color had no
	// cursor. They are reported to the color's next reader.
	lost cmap.ConcurrentMap[uint64, uint64]

	// life is held shared by every operation touching storage and
	// exclusively by Close.
	life      sync.RWMutex
	closed    atomic.Bool
	closeOnce sync.Once

	writes      atomic.Uint64
	overflows   atomic.Uint64
	staleChains atomic.Uint64
	missed      atomic.Uint64

	metrics *metrics
	tracer  trace.Tracer
	trail   *audit.Trail
	logger  *logging.Logger
}

// Stats is a point-in-time summary of a buffer.
type Stats struct {
	Name           string
	Segments       int
	SegmentSize    int
	Direct         bool
	WritePosition  uint64
	Sequence       uint64
	Readers        int
	Writes         uint64
	Overflows      uint64
	StaleChains    uint64
	MissedSegments uint64
	Closed         bool
}

// New creates a buffer from config. A nil config uses DefaultConfig.
func New(config *Config) (*TransmissionBuffer, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := VerifyConfig(config); err != nil {
		return nil, err
	}
	cfg := *config

	var (
		storage Storage
		err     error
	)
	if cfg.Direct {
		storage, err = NewDirectStorage(context.Background(), cfg.Name, cfg.SegmentCount, cfg.SegmentSize)
	} else {
		storage, err = NewHeapStorage(cfg.SegmentCount, cfg.SegmentSize)
	}
	if err != nil {
		return nil, err
	}
	m, err := newMetrics(&cfg)
	if err != nil {
		_ = storage.Close()
		return nil, err
	}

	b := &TransmissionBuffer{
		config:  cfg,
		storage: storage,
		count:   uint64(cfg.SegmentCount),
		locks:   make([]sync.RWMutex, cfg.SegmentCount),
		cursors: cmap.NewWithCustomShardingFunction[uint64, *cursor](shardColor),
		lost:    cmap.NewWithCustomShardingFunction[uint64, uint64](shardColor),
		colors:  cfg.Colors,
		metrics: m,
		tracer:  newTracer(&cfg),
		logger:  logging.New("txbuf["+cfg.Name+"]", cfg.LogOutput),
	}
	if b.colors == nil {
		b.colors = &defaultColors
	}
	if cfg.AuditDepth > 0 {
		b.trail = audit.NewTrail(cfg.AuditDepth)
	}
	b.logger.Debugf("created %d segments x %d bytes, direct=%t, overflow=%s",
		cfg.SegmentCount, cfg.SegmentSize, storage.Direct(), cfg.Overflow)
	return b, nil
}

// Create returns a heap-backed buffer with the default sizing.
func Create() (*TransmissionBuffer, error) {
	return New(DefaultConfig())
}

// CreateSized returns a heap-backed buffer of segmentCount slots holding
// segmentSize payload bytes each.
func CreateSized(segmentCount, segmentSize int) (*TransmissionBuffer, error) {
	config := DefaultConfig()
	config.SegmentCount = segmentCount
	config.SegmentSize = segmentSize
	return New(config)
}

// CreateDirect returns a buffer with the default sizing whose slots live in
// an anonymous memory mapping.
func CreateDirect() (*TransmissionBuffer, error) {
	config := DefaultConfig()
	config.Direct = true
	return New(config)
}

// CreateDirectSized is CreateSized with direct storage.
func CreateDirectSized(segmentCount, segmentSize int) (*TransmissionBuffer, error) {
	config := DefaultConfig()
	config.SegmentCount = segmentCount
	config.SegmentSize = segmentSize
	config.Direct = true
	return New(config)
}

func shardColor(id uint64) uint32 {
	return uint32(id) ^ uint32(id>>32)
}

func (b *TransmissionBuffer) segment(i uint64) segment {
	return segment(b.storage.Segment(int(i)))
}

// Name returns the configured name.
func (b *TransmissionBuffer) Name() string { return b.config.Name }

// SegmentSize returns the payload capacity of one segment.
func (b *TransmissionBuffer) SegmentSize() int { return b.config.SegmentSize }

// Segments returns the number of segments in the ring.
func (b *TransmissionBuffer) Segments() int { return b.config.SegmentCount }

// Audit returns the audit trail, nil when AuditDepth is 0.
func (b *TransmissionBuffer) Audit() *audit.Trail { return b.trail }

func (b *TransmissionBuffer) record(kind audit.Kind, color uint64, seq, pos uint64, length int) {
	if b.trail != nil {
		b.trail.Record(audit.Event{Kind: kind, Color: color, Sequence: seq, Position: pos, Length: length, Time: time.Now()})
	}
}

// Write copies length bytes from src into the ring for color. It fails with
// ErrShortInput when src ends early, leaving nothing visible to readers, and
// with ErrOverflow when the ring cannot take the write without destroying
// unread data.
func (b *TransmissionBuffer) Write(ctx context.Context, length int, src io.Reader, color Color) error {
	if length < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidLength, length)
	}
	if length == 0 {
		return b.write(ctx, nil, color)
	}
	staged := bytebufferpool.Get()
	defer bytebufferpool.Put(staged)
	n, err := io.CopyN(staged, src, int64(length))
	if err != nil {
		return fmt.Errorf("%w: wanted %d bytes, got %d: %v", ErrShortInput, length, n, err)
	}
	return b.write(ctx, staged.B, color)
}

// WriteBytes writes p for color.
func (b *TransmissionBuffer) WriteBytes(ctx context.Context, p []byte, color Color) error {
	return b.write(ctx, p, color)
}

func (b *TransmissionBuffer) write(ctx context.Context, p []byte, color Color) (err error) {
	if !color.Valid() {
		return ErrInvalidColor
	}
	if b.closed.Load() {
		return ErrClosed
	}
	if len(p) == 0 {
		return nil
	}
	_, span := b.tracer.Start(ctx, "txbuf.Write", trace.WithAttributes(
		attribute.String("txbuf.buffer", b.config.Name),
		attribute.String("txbuf.color", color.String()),
		attribute.Int("txbuf.length", len(p)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	b.life.RLock()
	defer b.life.RUnlock()
	if b.closed.Load() {
		return ErrClosed
	}
	if err := b.appendChain(p, color); err != nil {
		return err
	}
	b.notify(color)
	return nil
}

// appendChain stores p as one chain and publishes it.
func (b *TransmissionBuffer) appendChain(p []byte, color Color) error {
	size := b.config.SegmentSize
	length := len(p)
	need := (length + size - 1) / size
	if uint64(need) > b.count {
		b.countOverflow(color.id, 0)
		return fmt.Errorf("%w: %d-byte write needs %d segments, ring holds %d", ErrOverflow, length, need, b.count)
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	start := b.writePos.Load()
	if err := b.reclaim(start, need, length); err != nil {
		return err
	}

	var headSeq uint64
	for i := 0; i < need; i++ {
		chunk := p[:min(len(p), size)]
		p = p[len(chunk):]

		pos := start + uint64(i)
		idx := pos % b.count
		seq := b.sequence.Add(1)
		if i == 0 {
			headSeq = seq
		}

		lock := &b.locks[idx]
		lock.Lock()
		seg := b.segment(idx)
		copy(seg.payload(), chunk)
		seg.stamp(color.id, seq, pos, len(chunk), i == 0)
		if i < need-1 {
			seg.linkNext(uint32((idx + 1) % b.count))
		}
		lock.Unlock()
	}
	end := start + uint64(need)
	b.writePos.Store(end)

	b.writes.Add(1)
	b.metrics.writes.Inc()
	b.metrics.bytesWritten.Add(float64(length))
	b.metrics.writePosition.Set(float64(end))
	b.record(audit.KindWrite, color.id, headSeq, start, length)
	return nil
}

// reclaim checks the slots a chain of need segments starting at position
// start will overwrite. A global slot is unread until every registered
// reader passed it, or, with none registered, until some reader consumed
// past it. A color slot is unread while that color's cursor has not passed
// it. Under OverflowReject the write fails on unread data; under
// OverflowDiscard the lagging readers are moved past the slot. Color slots
// of a color without a cursor are overwritten and counted as lost for it.
// Called with writeMu held: only writers modify slot headers, so they are
// stable here without the slot locks.
func (b *TransmissionBuffer) reclaim(start uint64, need, length int) error {
	if start+uint64(need) <= b.count {
		return nil
	}
	var orphaned []uint64
	minPos, minKnown := uint64(0), false
	for i := 0; i < need; i++ {
		p := start + uint64(i)
		if p < b.count {
			continue
		}
		old := p - b.count
		seg := b.segment(old % b.count)
		tag := seg.tag()
		if tag == emptyTag || seg.position() != old {
			continue
		}
		if tag == globalColorID {
			if !minKnown {
				minPos, minKnown = b.globalFloor(), true
			}
			if minPos > old {
				continue
			}
		} else if c, ok := b.cursors.Get(tag); !ok {
			orphaned = append(orphaned, tag, old)
			continue
		} else if c.pos.Load() > old {
			continue
		}

		if b.config.Overflow == OverflowReject {
			b.countOverflow(tag, old)
			return fmt.Errorf("%w: %d-byte write would overwrite segment %d (position %d, color %s) before it was read",
				ErrOverflow, length, old%b.count, old, Color{id: tag})
		}
		b.discard(tag, old)
		minKnown = false
	}
	for i := 0; i < len(orphaned); i += 2 {
		b.orphan(orphaned[i], orphaned[i+1])
	}
	return nil
}

func (b *TransmissionBuffer) countOverflow(tag, pos uint64) {
	b.overflows.Add(1)
	b.metrics.overflows.Inc()
	b.record(audit.KindOverflow, tag, b.sequence.Load(), pos, 0)
	b.logger.Infof("overflow at position %d (color %s)", pos, Color{id: tag})
}

// globalFloor is the lowest position global data is still needed from: the
// slowest registered cursor, or the read floor when no cursor is registered.
func (b *TransmissionBuffer) globalFloor() uint64 {
	lowest, seen := ^uint64(0), false
	b.cursors.IterCb(func(_ uint64, c *cursor) {
		seen = true
		if p := c.pos.Load(); p < lowest {
			lowest = p
		}
	})
	if !seen {
		return b.readFloor.Load()
	}
	return lowest
}

func (b *TransmissionBuffer) raiseFloor(pos uint64) {
	for {
		old := b.readFloor.Load()
		if old >= pos || b.readFloor.CompareAndSwap(old, pos) {
			return
		}
	}
}

// discard moves every reader that still needs position pos past it.
func (b *TransmissionBuffer) discard(tag, pos uint64) {
	skip := func(c *cursor) {
		if c.pos.Load() > pos {
			return
		}
		c.advance(pos + 1)
		c.miss(1)
		b.raiseFloor(pos + 1)
		b.countMissed(c.color.id, pos)
	}
	if tag == globalColorID {
		seen := false
		b.cursors.IterCb(func(_ uint64, c *cursor) {
			seen = true
			skip(c)
		})
		if !seen {
			b.raiseFloor(pos + 1)
			b.orphan(globalColorID, pos)
		}
		return
	}
	if c, ok := b.cursors.Get(tag); ok {
		skip(c)
	}
}

// orphan records that the segment at pos, tagged tag, was overwritten while
// no reader of tag was registered.
func (b *TransmissionBuffer) orphan(tag, pos uint64) {
	b.lost.Upsert(tag, 1, func(exist bool, n, one uint64) uint64 {
		if exist {
			return n + one
		}
		return one
	})
	b.countMissed(tag, pos)
}

func (b *TransmissionBuffer) countMissed(tag, pos uint64) {
	b.missed.Add(1)
	b.metrics.missed.Inc()
	b.record(audit.KindMissed, tag, 0, pos, 1)
}

// claimLost hands the losses recorded for color while it had no cursor to c.
func (b *TransmissionBuffer) claimLost(c *cursor, color uint64) {
	if n, ok := b.lost.Pop(color); ok && n > 0 {
		c.miss(n)
	}
}

// notify wakes the readers of color, or every reader for the global color.
func (b *TransmissionBuffer) notify(color Color) {
	if color.IsGlobal() {
		b.cursors.IterCb(func(_ uint64, c *cursor) { c.signal.broadcast() })
		return
	}
	if c, ok := b.cursors.Get(color.id); ok {
		c.signal.broadcast()
	}
}

// oldestRetained is the lowest position whose slot may still hold it.
func (b *TransmissionBuffer) oldestRetained() uint64 {
	if end := b.writePos.Load(); end > b.count {
		return end - b.count
	}
	return 0
}

func (b *TransmissionBuffer) cursorFor(color Color) (*cursor, error) {
	if !color.Valid() {
		return nil, ErrInvalidColor
	}
	if c, ok := b.cursors.Get(color.id); ok {
		return c, nil
	}
	created := false
	c := b.cursors.Upsert(color.id, nil, func(exist bool, inMap, _ *cursor) *cursor {
		if exist {
			return inMap
		}
		created = true
		return newCursor(color, b.oldestRetained())
	})
	if created {
		b.claimLost(c, color.id)
		if !color.IsGlobal() {
			b.claimLost(c, globalColorID)
		}
		b.metrics.readers.Set(float64(b.cursors.Count()))
		b.logger.Debugf("reader attached for color %s at position %d", color, c.pos.Load())
	}
	return c, nil
}

func (b *TransmissionBuffer) detach(c *cursor) {
	if c.detached.Swap(true) {
		return
	}
	b.cursors.RemoveCb(c.color.id, func(_ uint64, v *cursor, exists bool) bool {
		return exists && v == c
	})
	b.raiseFloor(c.pos.Load())
	b.metrics.readers.Set(float64(b.cursors.Count()))
	c.signal.broadcast()
	b.logger.Debugf("reader detached for color %s at position %d", c.color, c.pos.Load())
}

// Attach registers a reader for color. From now on data of the color, and
// global data, is not overwritten before the reader consumed it (under
// OverflowReject). A color has one cursor: attaching it twice returns
// handles sharing the same position. Segments of the color overwritten
// before it was attached are reported by Missed and by the first read.
func (b *TransmissionBuffer) Attach(color Color) (*Reader, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	c, err := b.cursorFor(color)
	if err != nil {
		return nil, err
	}
	return &Reader{buf: b, cur: c}, nil
}

// NewReader allocates a color from the buffer's allocator and attaches it.
func (b *TransmissionBuffer) NewReader() (*Reader, error) {
	return b.Attach(b.colors.NewColor())
}

// Read copies every chain available for color into w, in write order,
// without blocking. Each chain is handed to w in a single Write call. The
// color is attached on first use.
func (b *TransmissionBuffer) Read(w io.Writer, color Color) (int64, error) {
	c, err := b.cursorFor(color)
	if err != nil {
		return 0, err
	}
	return b.readCursor(w, c)
}

// ReadWait is Read, parking up to timeout when nothing is available. On
// timeout it returns whatever became available, possibly nothing, with a nil
// error. It returns ctx.Err() if ctx is done first.
func (b *TransmissionBuffer) ReadWait(ctx context.Context, timeout time.Duration, w io.Writer, color Color) (int64, error) {
	c, err := b.cursorFor(color)
	if err != nil {
		return 0, err
	}
	return b.readWait(ctx, timeout, w, c)
}

// readCursor scans from the cursor to the published write position.
func (b *TransmissionBuffer) readCursor(w io.Writer, c *cursor) (int64, error) {
	b.life.RLock()
	defer b.life.RUnlock()
	if b.closed.Load() {
		return 0, ErrClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	b.claimLost(c, c.color.id)
	if n := c.missed.Swap(0); n > 0 {
		b.logger.Warnf("color %s: %d segments were overwritten before they were read", c.color, n)
	}
	pos := c.pos.Load()
	end := b.writePos.Load()
	if oldest := b.oldestRetained(); pos < oldest {
		// Slots of this color and global slots are never overwritten before
		// the cursor passed them, so everything lapped belongs to other colors.
		b.logger.Tracef("color %s: lapped by %d segments, resuming at position %d", c.color, oldest-pos, oldest)
		pos = oldest
	}
	if pos >= end {
		return 0, nil
	}

	chain := bytebufferpool.Get()
	defer bytebufferpool.Put(chain)

	var total int64
	first := pos
	for pos < end {
		next, ok := b.collect(chain, c, pos, end)
		if ok {
			if _, err := w.Write(chain.B); err != nil {
				c.advance(pos)
				b.raiseFloor(c.pos.Load())
				return total, fmt.Errorf("%w: %w", ErrSink, err)
			}
			total += int64(len(chain.B))
			chain.Reset()
		}
		pos = next
	}
	c.advance(pos)
	b.raiseFloor(c.pos.Load())

	if total > 0 {
		b.metrics.reads.Inc()
		b.metrics.bytesRead.Add(float64(total))
		b.record(audit.KindRead, c.color.id, 0, first, int(total))
	}
	return total, nil
}

// collect appends the chain whose head is at pos to chain if the cursor's
// color sees it, returning the next position to examine. A chain whose
// continuation was overwritten while it was collected is dropped whole.
func (b *TransmissionBuffer) collect(chain *bytebufferpool.ByteBuffer, c *cursor, pos, end uint64) (uint64, bool) {
	idx := pos % b.count
	lock := &b.locks[idx]
	lock.RLock()
	seg := b.segment(idx)
	if seg.position() != pos || !seg.isChainHead() || !c.color.sees(seg.tag()) {
		lock.RUnlock()
		return pos + 1, false
	}
	seq := seg.sequence()
	_, _ = chain.Write(seg.data())
	linked, next := seg.hasNext(), uint64(seg.nextIndex())
	lock.RUnlock()

	for pos++; linked; pos++ {
		seq++
		if pos >= end || next != pos%b.count {
			b.stale(c, pos, seq)
			chain.Reset()
			return pos, false
		}
		lock = &b.locks[next]
		lock.RLock()
		seg = b.segment(next)
		if !seg.matchesSequence(seq) || seg.position() != pos {
			lock.RUnlock()
			b.stale(c, pos, seq)
			chain.Reset()
			return pos, false
		}
		_, _ = chain.Write(seg.data())
		linked, next = seg.hasNext(), uint64(seg.nextIndex())
		lock.RUnlock()
	}
	return pos, true
}

func (b *TransmissionBuffer) stale(c *cursor, pos, seq uint64) {
	b.staleChains.Add(1)
	b.metrics.staleChains.Inc()
	b.record(audit.KindStale, c.color.id, seq, pos, 0)
	b.logger.Warnf("color %s: chain broken at position %d, expected sequence %d; chain dropped", c.color, pos, seq)
}

// Stats returns a snapshot of the buffer counters.
func (b *TransmissionBuffer) Stats() Stats {
	return Stats{
		Name:           b.config.Name,
		Segments:       b.config.SegmentCount,
		SegmentSize:    b.config.SegmentSize,
		Direct:         b.storage.Direct(),
		WritePosition:  b.writePos.Load(),
		Sequence:       b.sequence.Load(),
		Readers:        b.cursors.Count(),
		Writes:         b.writes.Load(),
		Overflows:      b.overflows.Load(),
		StaleChains:    b.staleChains.Load(),
		MissedSegments: b.missed.Load(),
		Closed:         b.closed.Load(),
	}
}

// Close releases the storage and wakes every parked reader. Operations on a
// closed buffer fail with ErrClosed.
func (b *TransmissionBuffer) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		b.cursors.IterCb(func(_ uint64, c *cursor) { c.signal.broadcast() })
		b.life.Lock()
		err = b.storage.Close()
		b.life.Unlock()
		if b.trail != nil {
			b.trail.Close()
		}
		b.logger.Debugf("closed at write position %d", b.writePos.Load())
	})
	return err
}
