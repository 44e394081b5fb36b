package buffers

import "errors"

var (
	// ErrOverflow is returned by Write when wraparound would destroy data a
	// reader has not consumed yet, or when a single write needs
	// more segments than the ring holds.
	ErrOverflow = errors.New("transmission buffer overflow")
	// ErrShortInput is returned by Write when the source ends before the
	// promised number of bytes.
	ErrShortInput = errors.New("transmission buffer: source supplied fewer bytes than promised")
	// ErrSink wraps a failure of the destination writer during a read.
	ErrSink = errors.New("transmission buffer: sink write failed")
	// ErrClosed is returned by every operation on a closed buffer.
	ErrClosed = errors.New("transmission buffer: closed")
	// ErrInvalidColor is returned for the zero Color.
	ErrInvalidColor = errors.New("transmission buffer: invalid color")
	// ErrInvalidLength is returned for a negative write length.
	ErrInvalidLength = errors.New("transmission buffer: invalid length")
	// ErrInvalidConfig is returned by VerifyConfig.
	ErrInvalidConfig = errors.New("transmission buffer: invalid config")
	// ErrDirectUnsupported is returned when direct storage cannot be mapped on this platform.
	ErrDirectUnsupported = errors.New("transmission buffer: direct storage unsupported")
)

// ErrDetached is returned by a Reader used after Detach.
var ErrDetached = errors.New("transmission buffer: reader detached")
