// Package api defines the contracts the bus, its transports and its
// operators code against.
package api

import (
	"context"
	"io"
	"time"

	"github.com/srediag/txbuf/pkg/buffers"
)

// Buffer is a color-partitioned transmission buffer.
type Buffer interface {
	// Write copies length bytes from src into the buffer for color.
	Write(ctx context.Context, length int, src io.Reader, color buffers.Color) error
	// WriteBytes writes p for color.
	WriteBytes(ctx context.Context, p []byte, color buffers.Color) error
	// Read copies everything available for color into w without blocking.
	Read(w io.Writer, color buffers.Color) (int64, error)
	// ReadWait is Read, parking up to timeout when nothing is available.
	ReadWait(ctx context.Context, timeout time.Duration, w io.Writer, color buffers.Color) (int64, error)
	// Attach registers a reader for color.
	Attach(color buffers.Color) (*buffers.Reader, error)
	// NewReader registers a reader for a freshly allocated color.
	NewReader() (*buffers.Reader, error)
	// DumpSegments writes a listing of every segment and reader to w.
	DumpSegments(w io.Writer)
	StatsSource
	Auditor
	Close() error
}

var _ Buffer = (*buffers.TransmissionBuffer)(nil)
