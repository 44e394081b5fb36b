// Package health exposes liveness and readiness of a transmission buffer
// through a heptiolabs healthcheck handler.
package health

import (
	"errors"
	"fmt"
	"sync"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/srediag/txbuf/api"
)

// Check names.
const (
	CheckBufferOpen     = "buffer-open"
	CheckGoroutines     = "goroutine-threshold"
	CheckOverflowBudget = "overflow-budget"
	CheckStaleBudget    = "stale-chain-budget"
)

const defaultMaxGoroutines = 10000

// ErrBufferClosed is reported by the buffer-open check.
var ErrBufferClosed = errors.New("health: buffer closed")

// Options tunes the checks of NewHandler.
type Options struct {
	// MaxGoroutines fails liveness above this many goroutines.
	MaxGoroutines int
	// OverflowBudget is the number of overflows tolerated between two
	// readiness probes.
	OverflowBudget uint64
	// StaleBudget is the number of dropped stale chains tolerated between
	// two readiness probes.
	StaleBudget uint64
	// Registerer, when set, also exports the check results as prometheus
	// gauges under Namespace.
	Registerer prometheus.Registerer
	Namespace  string
}

// DefaultOptions returns the options NewHandler uses for nil.
func DefaultOptions() *Options {
	return &Options{MaxGoroutines: defaultMaxGoroutines}
}

// NewHandler returns a handler serving /live and /ready for buf.
func NewHandler(buf api.StatsSource, opts *Options) healthcheck.Handler {
	if opts == nil {
		opts = DefaultOptions()
	}
	var h healthcheck.Handler
	if opts.Registerer != nil {
		h = healthcheck.NewMetricsHandler(opts.Registerer, opts.Namespace)
	} else {
		h = healthcheck.NewHandler()
	}
	maxGoroutines := opts.MaxGoroutines
	if maxGoroutines <= 0 {
		maxGoroutines = defaultMaxGoroutines
	}

	h.AddLivenessCheck(CheckBufferOpen, BufferOpen(buf))
	h.AddLivenessCheck(CheckGoroutines, healthcheck.GoroutineCountCheck(maxGoroutines))
	h.AddReadinessCheck(CheckOverflowBudget, NewBudget("overflows", opts.OverflowBudget, func() uint64 {
		return buf.Stats().Overflows
	}).Check)
	h.AddReadinessCheck(CheckStaleBudget, NewBudget("stale chains", opts.StaleBudget, func() uint64 {
		return buf.Stats().StaleChains
	}).Check)
	return h
}

// BufferOpen fails once the buffer is closed.
func BufferOpen(buf api.StatsSource) healthcheck.Check {
	return func() error {
		if buf.Stats().Closed {
			return ErrBufferClosed
		}
		return nil
	}
}

// Budget fails a probe when a monotonic counter grew by more than its
// allowance since the previous probe.
type Budget struct {
	name  string
	allow uint64
	read  func() uint64

	mu   sync.Mutex
	last uint64
}

// NewBudget starts a budget at the current value of read.
func NewBudget(name string, allow uint64, read func() uint64) *Budget {
	return &Budget{name: name, allow: allow, read: read, last: read()}
}

// Check implements healthcheck.Check.
func (b *Budget) Check() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.read()
	delta := now - b.last
	b.last = now
	if delta > b.allow {
		return fmt.Errorf("%d %s since last probe, budget %d", delta, b.name, b.allow)
	}
	return nil
}
