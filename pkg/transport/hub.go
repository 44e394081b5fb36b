// Package transport multiplexes subscriber queues over one transmission
// buffer: every queue owns a color, broadcasts use the global color.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/srediag/txbuf/api"
	"github.com/srediag/txbuf/internal/logging"
	"github.com/srediag/txbuf/pkg/buffers"
)

// ErrHubClosed is returned by a closed Hub and by its queues.
var ErrHubClosed = errors.New("transport: hub closed")

const (
	defaultMaxRetryElapsed = 2 * time.Second
	defaultInitialInterval = time.Millisecond
	defaultMaxInterval     = 50 * time.Millisecond
)

// Options tunes a Hub.
type Options struct {
	// MaxRetryElapsed bounds how long Send and Broadcast retry a write that
	// overflowed. 0 disables retries.
	MaxRetryElapsed time.Duration
	// InitialInterval and MaxInterval shape the exponential backoff.
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// LogOutput receives the hub's log lines. Nil writes to stdout.
	LogOutput io.Writer
}

// DefaultOptions returns the options NewHub uses for nil.
func DefaultOptions() *Options {
	return &Options{
		MaxRetryElapsed: defaultMaxRetryElapsed,
		InitialInterval: defaultInitialInterval,
		MaxInterval:     defaultMaxInterval,
	}
}

// Hub tracks the queues of one bus. It never closes the buffer it sends on.
type Hub struct {
	buf    api.Buffer
	opts   Options
	queues cmap.ConcurrentMap[uint64, *Queue]
	closed atomic.Bool

	sent    atomic.Uint64
	retries atomic.Uint64

	logger *logging.Logger
}

// NewHub returns a hub sending on buf.
func NewHub(buf api.Buffer, opts *Options) *Hub {
	if opts == nil {
		opts = DefaultOptions()
	}
	o := *opts
	if o.InitialInterval <= 0 {
		o.InitialInterval = defaultInitialInterval
	}
	if o.MaxInterval < o.InitialInterval {
		o.MaxInterval = o.InitialInterval
	}
	return &Hub{
		buf:    buf,
		opts:   o,
		queues: cmap.NewWithCustomShardingFunction[uint64, *Queue](func(id uint64) uint32 { return uint32(id) }),
		logger: logging.New("hub", o.LogOutput),
	}
}

// Subscribe creates a queue with a fresh color.
func (h *Hub) Subscribe() (*Queue, error) {
	if h.closed.Load() {
		return nil, ErrHubClosed
	}
	reader, err := h.buf.NewReader()
	if err != nil {
		return nil, err
	}
	q := &Queue{hub: h, reader: reader}
	h.queues.Set(q.Color().ID(), q)
	if h.closed.Load() {
		_ = q.Close()
		return nil, ErrHubClosed
	}
	h.logger.Debugf("queue %s subscribed", q.Color())
	return q, nil
}

// Queue returns the subscribed queue of color id.
func (h *Hub) Queue(id uint64) (*Queue, bool) {
	return h.queues.Get(id)
}

// Len is the number of subscribed queues.
func (h *Hub) Len() int {
	return h.queues.Count()
}

// Broadcast delivers msg to every queue, present and future readers alike.
func (h *Hub) Broadcast(ctx context.Context, msg []byte) error {
	return h.send(ctx, msg, buffers.AllBuffersColor())
}

// Sent counts the messages written by Send and Broadcast.
func (h *Hub) Sent() uint64 { return h.sent.Load() }

// Retries counts the writes repeated after an overflow.
func (h *Hub) Retries() uint64 { return h.retries.Load() }

// Close unsubscribes every queue. Pending data of the queues is left to
// wraparound.
func (h *Hub) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	for _, id := range h.queues.Keys() {
		if q, ok := h.queues.Pop(id); ok {
			q.detach()
		}
	}
	return nil
}

func (h *Hub) send(ctx context.Context, msg []byte, color buffers.Color) error {
	if h.closed.Load() {
		return ErrHubClosed
	}
	st := h.buf.Stats()
	capacity := st.Segments * st.SegmentSize
	op := func() error {
		err := h.buf.WriteBytes(ctx, msg, color)
		if err == nil {
			return nil
		}
		if errors.Is(err, buffers.ErrOverflow) && len(msg) <= capacity && h.opts.MaxRetryElapsed > 0 {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		h.retries.Add(1)
		h.logger.Debugf("send to %s: %v, retrying in %s", color, err, wait)
	}

	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(h.opts.InitialInterval),
		backoff.WithMaxInterval(h.opts.MaxInterval),
		backoff.WithMaxElapsedTime(h.opts.MaxRetryElapsed),
	)
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return fmt.Errorf("send to %s: %w", color, err)
	}
	h.sent.Add(1)
	return nil
}
