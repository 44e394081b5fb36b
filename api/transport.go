package api

import (
	"context"
	"time"

	"github.com/srediag/txbuf/pkg/buffers"
)

// Queue is one subscriber of a bus, bound to its own color.
type Queue interface {
	Color() buffers.Color
	// Send delivers msg to this queue only.
	Send(ctx context.Context, msg []byte) error
	// Poll returns the pending messages of the queue concatenated in write
	// order, waiting up to timeout. A nil slice means nothing arrived.
	Poll(ctx context.Context, timeout time.Duration) ([]byte, error)
	Close() error
}
