// Package audit keeps a bounded trail of transmission buffer events for
// debugging ordering, overflow and staleness problems.
package audit

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/Workiva/go-datastructures/queue"

	internalaudit "github.com/srediag/txbuf/internal/audit"
)

type (
	// Event is one recorded buffer operation.
	Event = internalaudit.Event
	// Kind classifies an Event.
	Kind = internalaudit.Kind
)

const (
	KindWrite    = internalaudit.KindWrite
	KindRead     = internalaudit.KindRead
	KindOverflow = internalaudit.KindOverflow
	KindStale    = internalaudit.KindStale
	KindMissed   = internalaudit.KindMissed
)

// evictWait bounds the wait for an element that Len reported as present.
const evictWait = time.Millisecond

// Trail is a fixed-capacity, lock-free trail of the most recent events.
// When full, the oldest event is evicted.
type Trail struct {
	rb      *queue.RingBuffer
	evicted atomic.Uint64
}

// NewTrail returns a trail holding at least depth events. The capacity is
// rounded up to a power of two.
func NewTrail(depth int) *Trail {
	if depth < 1 {
		depth = 1
	}
	return &Trail{rb: queue.NewRingBuffer(uint64(depth))}
}

// Record appends e, evicting the oldest events if the trail is full.
// Events recorded after Close are dropped.
func (t *Trail) Record(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	for {
		ok, err := t.rb.Offer(e)
		if err != nil || ok {
			return
		}
		if _, err := t.rb.Poll(evictWait); err != nil {
			if errors.Is(err, queue.ErrDisposed) {
				return
			}
			continue
		}
		t.evicted.Add(1)
	}
}

// Drain removes and returns the recorded events, oldest first.
func (t *Trail) Drain() []Event {
	n := t.rb.Len()
	events := make([]Event, 0, n)
	for i := uint64(0); i < n; i++ {
		item, err := t.rb.Poll(evictWait)
		if err != nil {
			break
		}
		events = append(events, item.(Event))
	}
	return events
}

// Len is the number of events currently held.
func (t *Trail) Len() int { return int(t.rb.Len()) }

// Cap is the capacity of the trail.
func (t *Trail) Cap() int { return int(t.rb.Cap()) }

// Evicted counts events dropped to make room.
func (t *Trail) Evicted() uint64 { return t.evicted.Load() }

// Dump drains the trail into w, one event per line.
func (t *Trail) Dump(w io.Writer) error {
	for _, e := range t.Drain() {
		if _, err := fmt.Fprintln(w, internalaudit.Format(e)); err != nil {
			return err
		}
	}
	if n := t.Evicted(); n > 0 {
		if _, err := fmt.Fprintf(w, "(%d older events evicted)\n", n); err != nil {
			return err
		}
	}
	return nil
}

// Close disposes the trail and releases goroutines blocked in it.
func (t *Trail) Close() {
	t.rb.Dispose()
}
