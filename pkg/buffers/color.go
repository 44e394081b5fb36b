package buffers

import (
	"math"
	"strconv"
	"sync/atomic"
)

const (
	emptyTag      uint64 = 0
	globalColorID uint64 = math.MaxUint64
)

// Color identifies one logical read stream of a TransmissionBuffer. Segments
// written with a color are only visible to readers of that color, except for
// the global color returned by AllBuffersColor, which every reader sees.
//
// Colors are values and compare with ==. The zero Color is invalid.
type Color struct {
	id uint64
}

// ID returns the numeric identity of the color.
func (c Color) ID() uint64 { return c.id }

// IsGlobal reports whether c is the all-buffers color.
func (c Color) IsGlobal() bool { return c.id == globalColorID }

// Valid reports whether c was obtained from an allocator or AllBuffersColor.
func (c Color) Valid() bool { return c.id != emptyTag }

func (c Color) String() string {
	switch c.id {
	case globalColorID:
		return "global"
	case emptyTag:
		return "invalid"
	}
	return strconv.FormatUint(c.id, 10)
}

// sees reports whether a reader of c consumes a segment tagged tag.
func (c Color) sees(tag uint64) bool {
	return tag != emptyTag && (tag == c.id || tag == globalColorID)
}

// ColorAllocator hands out colors with unique, strictly increasing ids.
// The zero value is ready to use; ids start at 1.
type ColorAllocator struct {
	next atomic.Uint64
}

// NewColor allocates a fresh color. Safe for concurrent use.
func (a *ColorAllocator) NewColor() Color {
	id := a.next.Add(1)
	if id == globalColorID {
		panic("buffers: color ids exhausted")
	}
	return Color{id: id}
}

// defaultColors is the process-wide allocator behind NewColor. It is
// initialized with the package and never reset.
var defaultColors ColorAllocator

// NewColor allocates a fresh color from the process-wide allocator.
func NewColor() Color {
	return defaultColors.NewColor()
}

// AllBuffersColor returns the global color. Segments written with it are
// returned by reads of every color and by reads of the global color itself.
func AllBuffersColor() Color {
	return Color{id: globalColorID}
}
