package api

import "github.com/srediag/txbuf/pkg/buffers"

// Registry owns the named buffers of a process.
type Registry interface {
	// Open returns the buffer registered under name, creating it from
	// config when absent.
	Open(name string, config *buffers.Config) (*buffers.TransmissionBuffer, error)
	Get(name string) (*buffers.TransmissionBuffer, bool)
	Close(name string) error
	CloseAll() error
	Names() []string
}
