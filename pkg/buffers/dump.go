package buffers

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
)

// DumpSegments writes every slot header and every registered cursor to w.
// It only takes read locks, one slot at a time, and ignores write errors:
// the listing is best effort.
func (b *TransmissionBuffer) DumpSegments(w io.Writer) {
	b.life.RLock()
	defer b.life.RUnlock()

	st := b.Stats()
	fmt.Fprintf(w, "buffer %s: %d segments x %d bytes, direct=%t, write position %d, sequence %d\n",
		st.Name, st.Segments, st.SegmentSize, st.Direct, st.WritePosition, st.Sequence)
	if st.Closed {
		fmt.Fprintln(w, "(closed)")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SLOT\tTAG\tLEN\tSEQ\tPOS\tNEXT\tFLAGS")
	for i := uint64(0); i < b.count; i++ {
		b.locks[i].RLock()
		seg := b.segment(i)
		tag := seg.tag()
		if tag == emptyTag {
			b.locks[i].RUnlock()
			continue
		}
		next := "-"
		if seg.hasNext() {
			next = fmt.Sprint(seg.nextIndex())
		}
		flags := "cont"
		if seg.isChainHead() {
			flags = "head"
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\t%s\t%s\n",
			i, Color{id: tag}, seg.length(), seg.sequence(), seg.position(), next, flags)
		b.locks[i].RUnlock()
	}
	_ = tw.Flush()

	type row struct {
		color  Color
		pos    uint64
		missed uint64
	}
	var rows []row
	b.cursors.IterCb(func(_ uint64, c *cursor) {
		rows = append(rows, row{c.color, c.pos.Load(), c.total.Load()})
	})
	sort.Slice(rows, func(i, j int) bool { return rows[i].color.id < rows[j].color.id })

	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "READER\tPOSITION\tMISSED")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%d\t%d\n", r.color, r.pos, r.missed)
	}
	_ = tw.Flush()
}
