// Package audit contains the event type and formatting behind pkg/audit.
package audit

import (
	"math"
	"strconv"
	"time"
)

// Kind classifies an audit event.
type Kind uint8

const (
	KindWrite Kind = iota + 1
	KindRead
	KindOverflow
	KindStale
	KindMissed
)

var kindNames = [...]string{
	KindWrite:    "write",
	KindRead:     "read",
	KindOverflow: "overflow",
	KindStale:    "stale",
	KindMissed:   "missed",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Event is one buffer operation as seen by the audit trail. Sequence and
// Position identify the first segment involved; Length is in bytes for
// writes and reads and in segments for misses.
type Event struct {
	Kind     Kind
	Color    uint64
	Sequence uint64
	Position uint64
	Length   int
	Time     time.Time
}

// Format renders e as one line without a trailing newline.
func Format(e Event) string {
	b := make([]byte, 0, 96)
	b = e.Time.AppendFormat(b, "15:04:05.000000")
	b = append(b, ' ')
	b = append(b, e.Kind.String()...)
	b = append(b, " color="...)
	if e.Color == math.MaxUint64 {
		b = append(b, "global"...)
	} else {
		b = strconv.AppendUint(b, e.Color, 10)
	}
	b = append(b, " seq="...)
	b = strconv.AppendUint(b, e.Sequence, 10)
	b = append(b, " pos="...)
	b = strconv.AppendUint(b, e.Position, 10)
	b = append(b, " len="...)
	b = strconv.AppendInt(b, int64(e.Length), 10)
	return string(b)
}
