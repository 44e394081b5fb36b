// Package lifecycle owns the named transmission buffers of a process, one
// per bus or session grouping.
package lifecycle

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/srediag/txbuf/api"
	"github.com/srediag/txbuf/internal/logging"
	"github.com/srediag/txbuf/pkg/buffers"
)

// ErrNotFound is returned by Close for an unknown name.
var ErrNotFound = errors.New("lifecycle: buffer not found")

// Registry maps names to open buffers. Lookups are lock-free; Open
// serializes creation so a name is never created twice.
type Registry struct {
	openMu  sync.Mutex
	buffers cmap.ConcurrentMap[string, *buffers.TransmissionBuffer]
	logger  *logging.Logger
}

var _ api.Registry = (*Registry)(nil)

// NewRegistry returns an empty registry logging to out (stdout for nil).
func NewRegistry(out io.Writer) *Registry {
	return &Registry{
		buffers: cmap.New[*buffers.TransmissionBuffer](),
		logger:  logging.New("registry", out),
	}
}

// Open returns the buffer registered under name. When absent it is created
// from config, nil meaning buffers.DefaultConfig; the config's Name is
// replaced by name.
func (r *Registry) Open(name string, config *buffers.Config) (*buffers.TransmissionBuffer, error) {
	if buf, ok := r.buffers.Get(name); ok {
		return buf, nil
	}
	r.openMu.Lock()
	defer r.openMu.Unlock()
	if buf, ok := r.buffers.Get(name); ok {
		return buf, nil
	}

	if config == nil {
		config = buffers.DefaultConfig()
	}
	cfg := *config
	cfg.Name = name
	buf, err := buffers.New(&cfg)
	if err != nil {
		return nil, fmt.Errorf("open buffer %s: %w", name, err)
	}
	r.buffers.Set(name, buf)
	r.logger.Debugf("opened buffer %s", name)
	return buf, nil
}

// Get returns the buffer registered under name.
func (r *Registry) Get(name string) (*buffers.TransmissionBuffer, bool) {
	return r.buffers.Get(name)
}

// Close closes and unregisters the named buffer.
func (r *Registry) Close(name string) error {
	buf, ok := r.buffers.Pop(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	r.logger.Debugf("closing buffer %s", name)
	return buf.Close()
}

// CloseAll closes every registered buffer.
func (r *Registry) CloseAll() error {
	var errs []error
	for _, name := range r.buffers.Keys() {
		if buf, ok := r.buffers.Pop(name); ok {
			if err := buf.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close buffer %s: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	names := r.buffers.Keys()
	sort.Strings(names)
	return names
}
