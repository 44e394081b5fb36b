package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/srediag/txbuf/pkg/buffers"
	"github.com/srediag/txbuf/pkg/health"
	"github.com/srediag/txbuf/pkg/lifecycle"
	"github.com/srediag/txbuf/pkg/transport"
)

var (
	stressProducers   int
	stressColors      int
	stressMessages    int
	stressSegments    int
	stressSegmentSize int
	stressTimeout     time.Duration
	stressListen      string
)

var fragmentPattern = regexp.MustCompile(`^<:::(\d+):::>$`)

var stressCmd = &cobra.Command{
	Use:   "stress",
	Short: "Run many producers and color readers through a hub",
	Long: `Submit --messages writes of "<:::i:::>" through a goroutine pool of
--producers workers, round-robin across --colors subscriber queues, while
one reader per queue drains it with long polls. Fails unless every message
is read exactly once by its own queue and no fragment is malformed.

With --listen, /metrics, /live and /ready are served while running.`,
	RunE: runStress,
}

func init() {
	f := stressCmd.Flags()
	f.IntVar(&stressProducers, "producers", 8, "concurrent producers")
	f.IntVar(&stressColors, "colors", 10, "subscriber queues")
	f.IntVar(&stressMessages, "messages", 10000, "messages to write")
	f.IntVar(&stressSegments, "segments", 32000, "number of segments")
	f.IntVar(&stressSegmentSize, "segment-size", 32, "payload bytes per segment")
	f.DurationVar(&stressTimeout, "timeout", time.Minute, "give up after this long")
	f.StringVar(&stressListen, "listen", "", "serve /metrics, /live and /ready on this address")
	rootCmd.AddCommand(stressCmd)
}

type stressResult struct {
	written   atomic.Int64
	failed    atomic.Int64
	read      atomic.Int64
	malformed atomic.Int64
	misrouted atomic.Int64
}

func runStress(cmd *cobra.Command, args []string) error {
	if stressColors <= 0 || stressProducers <= 0 || stressMessages < 0 {
		return errors.New("stress: --colors and --producers must be positive")
	}
	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if configPath == "" || cmd.Flags().Changed("segments") {
		config.SegmentCount = stressSegments
	}
	if configPath == "" || cmd.Flags().Changed("segment-size") {
		config.SegmentSize = stressSegmentSize
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	config.Registerer = reg

	registry := lifecycle.NewRegistry(cmd.ErrOrStderr())
	defer registry.CloseAll()
	buf, err := registry.Open("stress", config)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if stressListen != "" {
		srv, addr, err := serveDiagnostics(stressListen, reg, buf)
		if err != nil {
			return err
		}
		defer srv.Close()
		fmt.Fprintf(out, "serving /metrics /live /ready on %s\n", addr)
	}

	hub := transport.NewHub(buf, &transport.Options{
		MaxRetryElapsed: stressTimeout,
		LogOutput:       cmd.ErrOrStderr(),
	})
	defer hub.Close()
	queues := make([]*transport.Queue, stressColors)
	for k := range queues {
		if queues[k], err = hub.Subscribe(); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), stressTimeout)
	defer cancel()
	start := time.Now()

	var res stressResult
	var readers sync.WaitGroup
	for k, q := range queues {
		want := stressMessages / stressColors
		if k < stressMessages%stressColors {
			want++
		}
		readers.Add(1)
		go func(k, want int, q *transport.Queue) {
			defer readers.Done()
			drainQueue(ctx, k, want, q, &res)
		}(k, want, q)
	}

	pool, err := ants.NewPool(stressProducers)
	if err != nil {
		return err
	}
	defer pool.Release()
	var writers sync.WaitGroup
	for i := 0; i < stressMessages; i++ {
		i := i
		writers.Add(1)
		err := pool.Submit(func() {
			defer writers.Done()
			msg := []byte(fmt.Sprintf("<:::%d:::>", i))
			if err := queues[i%stressColors].Send(ctx, msg); err != nil {
				res.failed.Add(1)
				return
			}
			res.written.Add(1)
		})
		if err != nil {
			writers.Done()
			res.failed.Add(1)
		}
	}
	writers.Wait()
	readers.Wait()

	st := buf.Stats()
	fmt.Fprintf(out, "messages: %d written, %d failed, %d read, %d malformed, %d misrouted in %s\n",
		res.written.Load(), res.failed.Load(), res.read.Load(), res.malformed.Load(), res.misrouted.Load(),
		time.Since(start).Round(time.Millisecond))
	fmt.Fprintf(out, "buffer: %d segments x %d bytes, %d overflows, %d send retries, %d stale chains, %d missed segments\n",
		st.Segments, st.SegmentSize, st.Overflows, hub.Retries(), st.StaleChains, st.MissedSegments)

	switch {
	case res.failed.Load() > 0:
		return fmt.Errorf("stress: %d writes failed", res.failed.Load())
	case res.malformed.Load() > 0 || res.misrouted.Load() > 0:
		return fmt.Errorf("stress: %d malformed and %d misrouted fragments", res.malformed.Load(), res.misrouted.Load())
	case res.read.Load() != res.written.Load():
		return fmt.Errorf("stress: wrote %d messages but read %d", res.written.Load(), res.read.Load())
	}
	return nil
}

func drainQueue(ctx context.Context, k, want int, q *transport.Queue, res *stressResult) {
	seen := make(map[int]bool, want)
	for len(seen) < want && ctx.Err() == nil {
		msgs, err := q.Receive(ctx, 50*time.Millisecond)
		if err != nil {
			return
		}
		for _, msg := range msgs {
			m := fragmentPattern.FindSubmatch(msg)
			if m == nil {
				res.malformed.Add(1)
				continue
			}
			i, err := strconv.Atoi(string(m[1]))
			if err != nil || i%stressColors != k || seen[i] {
				res.misrouted.Add(1)
				continue
			}
			seen[i] = true
			res.read.Add(1)
		}
	}
}

// serveDiagnostics serves metrics and health on addr until the returned
// server is closed.
func serveDiagnostics(addr string, reg *prometheus.Registry, buf *buffers.TransmissionBuffer) (*http.Server, string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, "", err
	}
	checks := health.NewHandler(buf, &health.Options{Registerer: reg, Namespace: "txbuf"})
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.Handle("/live", checks)
	mux.Handle("/ready", checks)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.Serve(ln) }()
	return srv, ln.Addr().String(), nil
}
