package transport

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/valyala/bytebufferpool"

	"github.com/srediag/txbuf/api"
	"github.com/srediag/txbuf/pkg/buffers"
)

// Queue is a subscriber bound to one color of the hub's buffer.
type Queue struct {
	hub    *Hub
	reader *buffers.Reader
	closed atomic.Bool
}

var _ api.Queue = (*Queue)(nil)

// Color is the queue's color.
func (q *Queue) Color() buffers.Color { return q.reader.Color() }

// Send delivers msg to this queue.
func (q *Queue) Send(ctx context.Context, msg []byte) error {
	if q.closed.Load() {
		return ErrHubClosed
	}
	return q.hub.send(ctx, msg, q.Color())
}

// Poll waits up to timeout for messages and returns them concatenated. It
// returns nil, nil when the timeout elapsed with nothing pending.
func (q *Queue) Poll(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if q.closed.Load() {
		return nil, ErrHubClosed
	}
	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)

	if _, err := q.reader.ReadWait(ctx, timeout, bb); err != nil {
		return nil, err
	}
	if bb.Len() == 0 {
		return nil, nil
	}
	out := make([]byte, bb.Len())
	copy(out, bb.B)
	return out, nil
}

// Receive is Poll keeping message boundaries: one element per message, in
// write order.
func (q *Queue) Receive(ctx context.Context, timeout time.Duration) ([][]byte, error) {
	if q.closed.Load() {
		return nil, ErrHubClosed
	}
	var sink messageSink
	if _, err := q.reader.ReadWait(ctx, timeout, &sink); err != nil {
		return sink.msgs, err
	}
	return sink.msgs, nil
}

// messageSink keeps each chain a read hands over as its own message.
type messageSink struct {
	msgs [][]byte
}

func (m *messageSink) Write(p []byte) (int, error) {
	m.msgs = append(m.msgs, append([]byte(nil), p...))
	return len(p), nil
}

// Missed counts the segments of this queue lost to wraparound.
func (q *Queue) Missed() uint64 { return q.reader.Missed() }

// Close unsubscribes the queue.
func (q *Queue) Close() error {
	q.hub.queues.Remove(q.Color().ID())
	q.detach()
	return nil
}

func (q *Queue) detach() {
	if q.closed.CompareAndSwap(false, true) {
		q.reader.Detach()
		q.hub.logger.Debugf("queue %s closed", q.Color())
	}
}
