package buffers

import (
	"context"
	"io"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// signal wakes the goroutines parked in ReadWait for one cursor. Waiters
// take the channel before scanning, so a write published after the scan
// always closes a channel they hold.
type signal struct {
	mu sync.Mutex
	ch chan struct{}
}

func (s *signal) wait() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == nil {
		s.ch = make(chan struct{})
	}
	return s.ch
}

func (s *signal) broadcast() {
	s.mu.Lock()
	if s.ch != nil {
		close(s.ch)
		s.ch = nil
	}
	s.mu.Unlock()
}

func (b *TransmissionBuffer) readWait(ctx context.Context, timeout time.Duration, w io.Writer, c *cursor) (n int64, err error) {
	if timeout <= 0 {
		return b.readCursor(w, c)
	}
	ctx, span := b.tracer.Start(ctx, "txbuf.ReadWait", trace.WithAttributes(
		attribute.String("txbuf.buffer", b.config.Name),
		attribute.String("txbuf.color", c.color.String()),
		attribute.Int64("txbuf.timeout_ms", timeout.Milliseconds()),
	))
	var parked time.Duration
	defer func() {
		if parked > 0 {
			b.metrics.waitLatency.Record(ctx, parked.Seconds(),
				metric.WithAttributes(attribute.String("txbuf.buffer", b.config.Name)))
		}
		span.SetAttributes(attribute.Int64("txbuf.bytes", n))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		ready := c.signal.wait()
		if n, err = b.readCursor(w, c); err != nil || n > 0 {
			return n, err
		}
		if c.detached.Load() {
			return 0, ErrDetached
		}
		since := time.Now()
		select {
		case <-ready:
			parked += time.Since(since)
		case <-timer.C:
			parked += time.Since(since)
			return b.readCursor(w, c)
		case <-ctx.Done():
			parked += time.Since(since)
			return 0, ctx.Err()
		}
	}
}
