package buffers

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/srediag/txbuf/pkg/buffers"

type metrics struct {
	writes        prometheus.Counter
	bytesWritten  prometheus.Counter
	reads         prometheus.Counter
	bytesRead     prometheus.Counter
	overflows     prometheus.Counter
	staleChains   prometheus.Counter
	missed        prometheus.Counter
	readers       prometheus.Gauge
	writePosition prometheus.Gauge

	waitLatency metric.Float64Histogram
}

func newMetrics(config *Config) (*metrics, error) {
	labels := prometheus.Labels{"buffer": config.Name}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "txbuf",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "txbuf",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}
	m := &metrics{
		writes:        counter("writes_total", "Completed writes."),
		bytesWritten:  counter("written_bytes_total", "Payload bytes written."),
		reads:         counter("reads_total", "Reads that returned data."),
		bytesRead:     counter("read_bytes_total", "Payload bytes delivered to readers."),
		overflows:     counter("overflows_total", "Writes that hit unread data on wraparound."),
		staleChains:   counter("stale_chains_total", "Chains dropped because a segment was overwritten mid-read."),
		missed:        counter("missed_segments_total", "Segments overwritten before their reader consumed them."),
		readers:       gauge("readers", "Registered read cursors."),
		writePosition: gauge("write_position", "Segments allocated since creation."),
	}

	meter := config.Meter
	if meter == nil {
		meter = metricnoop.NewMeterProvider().Meter(instrumentationName)
	}
	hist, err := meter.Float64Histogram("txbuf.readwait.duration",
		metric.WithDescription("Time ReadWait spent parked."),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	m.waitLatency = hist

	if config.Registerer == nil {
		return m, nil
	}
	for _, c := range []*prometheus.Counter{&m.writes, &m.bytesWritten, &m.reads, &m.bytesRead,
		&m.overflows, &m.staleChains, &m.missed} {
		existing, err := register(config.Registerer, *c)
		if err != nil {
			return nil, err
		}
		*c = existing.(prometheus.Counter)
	}
	for _, g := range []*prometheus.Gauge{&m.readers, &m.writePosition} {
		existing, err := register(config.Registerer, *g)
		if err != nil {
			return nil, err
		}
		*g = existing.(prometheus.Gauge)
	}
	return m, nil
}

// register returns the collector already registered under the same
// descriptor, so buffers reopened with the same name share their series.
func register(reg prometheus.Registerer, c prometheus.Collector) (prometheus.Collector, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector, nil
		}
		return nil, err
	}
	return c, nil
}

func newTracer(config *Config) trace.Tracer {
	if config.Tracer != nil {
		return config.Tracer
	}
	return tracenoop.NewTracerProvider().Tracer(instrumentationName)
}
