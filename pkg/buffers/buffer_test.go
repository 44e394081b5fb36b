package buffers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"unsafe"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/suite"

	"github.com/srediag/txbuf/pkg/audit"
)

type BufferTestSuite struct {
	suite.Suite
	ctx context.Context
}

func (s *BufferTestSuite) SetupTest() {
	s.ctx = context.Background()
}

func (s *BufferTestSuite) newBuffer(count, size int, opts ...func(*Config)) *TransmissionBuffer {
	config := DefaultConfig()
	config.SegmentCount = count
	config.SegmentSize = size
	config.LogOutput = io.Discard
	for _, opt := range opts {
		opt(config)
	}
	buf, err := New(config)
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = buf.Close() })
	return buf
}

func (s *BufferTestSuite) write(buf *TransmissionBuffer, data string, color Color) {
	s.Require().NoError(buf.Write(s.ctx, len(data), strings.NewReader(data), color))
}

func (s *BufferTestSuite) read(buf *TransmissionBuffer, color Color) string {
	var out bytes.Buffer
	n, err := buf.Read(&out, color)
	s.Require().NoError(err)
	s.Require().Equal(int64(out.Len()), n)
	return out.String()
}

func (s *BufferTestSuite) TestRoundTrip() {
	buf := s.newBuffer(64, 16)
	color := NewColor()

	s.write(buf, "hello world", color)
	s.Equal("hello world", s.read(buf, color))
	s.Equal("", s.read(buf, color))
}

func (s *BufferTestSuite) TestInterleavedGlobalOrder() {
	s.T().Logf("[START] TestInterleavedGlobalOrder")
	buf := s.newBuffer(64, 4)
	a, b := NewColor(), NewColor()

	s.write(buf, "A-one", a)
	s.write(buf, "G-one", AllBuffersColor())
	s.write(buf, "A-two", a)

	s.Equal("A-oneG-oneA-two", s.read(buf, a))
	s.Equal("G-one", s.read(buf, b))
	s.T().Logf("[END] TestInterleavedGlobalOrder")
}

func (s *BufferTestSuite) TestColorIsolation() {
	buf := s.newBuffer(64, 8)
	a, b := NewColor(), NewColor()

	s.write(buf, "for a", a)
	s.write(buf, "for b", b)

	s.Equal("for a", s.read(buf, a))
	s.Equal("for b", s.read(buf, b))
	s.Equal("", s.read(buf, NewColor()))
}

func (s *BufferTestSuite) TestGlobalVisibleToEveryColor() {
	buf := s.newBuffer(64, 8)
	colors := []Color{NewColor(), NewColor(), NewColor(), AllBuffersColor()}

	s.write(buf, "everyone", AllBuffersColor())
	for _, c := range colors {
		s.Equal("everyone", s.read(buf, c), "color %s", c)
	}
}

func (s *BufferTestSuite) TestOverflowCalibration() {
	buf := s.newBuffer(100, 2)
	color := NewColor()
	_, err := buf.Attach(color)
	s.Require().NoError(err)

	payload := strings.Repeat("x", 100)
	s.write(buf, payload, color)
	s.write(buf, payload, color)

	err = buf.WriteBytes(s.ctx, []byte(payload), color)
	s.Require().ErrorIs(err, ErrOverflow)
	s.Contains(err.Error(), "overflow")
	s.Equal(uint64(100), buf.Stats().WritePosition)
	s.Equal(uint64(1), buf.Stats().Overflows)

	s.Equal(payload+payload, s.read(buf, color))
	s.write(buf, payload, color)
	s.Equal(payload, s.read(buf, color))
}

func (s *BufferTestSuite) TestOverflowSingleFillingWrite() {
	buf := s.newBuffer(100, 2)
	color := NewColor()
	_, err := buf.Attach(color)
	s.Require().NoError(err)

	s.write(buf, strings.Repeat("y", 200), color)
	err = buf.WriteBytes(s.ctx, []byte("zz"), color)
	s.Require().ErrorIs(err, ErrOverflow)
}

func (s *BufferTestSuite) TestOverflowWriteLargerThanRing() {
	buf := s.newBuffer(100, 2)
	err := buf.WriteBytes(s.ctx, make([]byte, 201), NewColor())
	s.Require().ErrorIs(err, ErrOverflow)
	s.Contains(err.Error(), "overflow")
	s.Equal(uint64(0), buf.Stats().WritePosition)
}

func (s *BufferTestSuite) TestOverflowProtectsGlobalForEveryReader() {
	buf := s.newBuffer(10, 4)
	a, b := NewColor(), NewColor()
	_, err := buf.Attach(a)
	s.Require().NoError(err)
	_, err = buf.Attach(b)
	s.Require().NoError(err)

	s.write(buf, strings.Repeat("g", 40), AllBuffersColor())
	s.Equal(40, len(s.read(buf, a)))

	err = buf.WriteBytes(s.ctx, []byte("more"), AllBuffersColor())
	s.Require().ErrorIs(err, ErrOverflow)

	s.Equal(40, len(s.read(buf, b)))
	s.write(buf, "more", AllBuffersColor())
}

func (s *BufferTestSuite) TestOverflowCalibrationWithoutReader() {
	buf := s.newBuffer(100, 2)
	payload := bytes.Repeat([]byte{0x01}, 200)

	s.Require().NoError(buf.WriteBytes(s.ctx, payload, AllBuffersColor()))
	for i := 0; i < 2; i++ {
		err := buf.WriteBytes(s.ctx, payload, AllBuffersColor())
		s.Require().ErrorIs(err, ErrOverflow)
		s.Contains(err.Error(), "overflow")
	}
	s.Equal(uint64(100), buf.Stats().WritePosition)
	s.Equal(uint64(2), buf.Stats().Overflows)
	s.Equal(0, buf.Stats().Readers)

	s.Equal(string(payload), s.read(buf, AllBuffersColor()))
	s.Require().NoError(buf.WriteBytes(s.ctx, payload, AllBuffersColor()))
}

func (s *BufferTestSuite) TestGlobalDataIsReleasedOnlyOnceRead() {
	buf := s.newBuffer(10, 4)
	r, err := buf.Attach(NewColor())
	s.Require().NoError(err)

	s.write(buf, strings.Repeat("g", 40), AllBuffersColor())
	var out bytes.Buffer
	_, err = r.Read(&out)
	s.Require().NoError(err)
	r.Detach()

	s.write(buf, "next", AllBuffersColor())
	err = buf.WriteBytes(s.ctx, []byte(strings.Repeat("h", 40)), AllBuffersColor())
	s.Require().ErrorIs(err, ErrOverflow)
}

func (s *BufferTestSuite) TestUnregisteredColorLapIsReportedAsMissed() {
	buf := s.newBuffer(100, 2)
	color := NewColor()

	first := strings.Repeat("1", 100)
	second := strings.Repeat("2", 100)
	third := strings.Repeat("3", 100)
	s.write(buf, first, color)
	s.write(buf, second, color)
	s.write(buf, third, color)
	s.Equal(uint64(50), buf.Stats().MissedSegments)
	s.Equal(uint64(0), buf.Stats().Overflows)

	s.Equal(second+third, s.read(buf, color))
	r, err := buf.Attach(color)
	s.Require().NoError(err)
	s.Equal(uint64(50), r.Missed())
}

func (s *BufferTestSuite) TestColorLappedBeforeFirstReadReportsMiss() {
	buf := s.newBuffer(10, 4, func(c *Config) { c.AuditDepth = 64 })
	a, b := NewColor(), NewColor()
	_, err := buf.Attach(b)
	s.Require().NoError(err)

	s.write(buf, "AAAA", a)
	for i := 0; i < 12; i++ {
		s.write(buf, "BBBB", b)
		s.Equal("BBBB", s.read(buf, b))
	}

	s.Equal("", s.read(buf, a))
	reader, err := buf.Attach(a)
	s.Require().NoError(err)
	s.Equal(uint64(1), reader.Missed())
	s.Equal(uint64(1), buf.Stats().MissedSegments)

	var lost []audit.Event
	for _, e := range buf.Audit().Drain() {
		if e.Kind == audit.KindMissed {
			lost = append(lost, e)
		}
	}
	s.Require().Len(lost, 1)
	s.Equal(a.ID(), lost[0].Color)
	s.Equal(uint64(0), lost[0].Position)
}

func (s *BufferTestSuite) TestDiscardPolicyWithoutReaderKeepsWriting() {
	buf := s.newBuffer(10, 4, func(c *Config) { c.Overflow = OverflowDiscard })
	s.write(buf, strings.Repeat("g", 40), AllBuffersColor())
	s.write(buf, "next", AllBuffersColor())
	s.Equal(uint64(1), buf.Stats().MissedSegments)

	r, err := buf.Attach(NewColor())
	s.Require().NoError(err)
	s.Equal(uint64(1), r.Missed())
}

func (s *BufferTestSuite) TestDiscardPolicyReportsMiss() {
	buf := s.newBuffer(10, 4, func(c *Config) { c.Overflow = OverflowDiscard })
	color := NewColor()
	reader, err := buf.Attach(color)
	s.Require().NoError(err)

	var want strings.Builder
	for i := 0; i < 11; i++ {
		chunk := strings.Repeat(string(rune('a'+i)), 4)
		s.write(buf, chunk, color)
		if i > 0 {
			want.WriteString(chunk)
		}
	}

	var out bytes.Buffer
	_, err = reader.Read(&out)
	s.Require().NoError(err)
	s.Equal(want.String(), out.String())
	s.Equal(uint64(1), reader.Missed())
	s.Equal(uint64(1), buf.Stats().MissedSegments)
	s.Equal(uint64(0), buf.Stats().Overflows)
}

func (s *BufferTestSuite) TestLargePayloadChaining() {
	s.T().Logf("[START] TestLargePayloadChaining")
	buf, err := Create()
	s.Require().NoError(err)
	defer buf.Close()

	giant := giantString(3 * DefaultSegmentSize)
	global := AllBuffersColor()
	s.write(buf, giant, global)
	s.write(buf, "and a short one", global)

	s.Equal(giant+"and a short one", s.read(buf, NewColor()))
	s.T().Logf("[END] TestLargePayloadChaining")
}

func (s *BufferTestSuite) TestChainSpansRingEnd() {
	buf := s.newBuffer(5, 4)
	color := NewColor()

	s.write(buf, "abcdefgh", color)
	s.Equal("abcdefgh", s.read(buf, color))
	s.write(buf, "0123456789abcdef", color)
	s.Equal("0123456789abcdef", s.read(buf, color))
}

func (s *BufferTestSuite) TestShortInput() {
	buf := s.newBuffer(16, 4)
	color := NewColor()

	err := buf.Write(s.ctx, 10, strings.NewReader("abc"), color)
	s.Require().ErrorIs(err, ErrShortInput)
	s.Equal(uint64(0), buf.Stats().WritePosition)
	s.Equal("", s.read(buf, color))
}

func (s *BufferTestSuite) TestZeroLengthAndInvalidArguments() {
	buf := s.newBuffer(16, 4)
	color := NewColor()

	s.Require().NoError(buf.Write(s.ctx, 0, nil, color))
	s.Equal(uint64(0), buf.Stats().WritePosition)

	s.Require().ErrorIs(buf.Write(s.ctx, -1, nil, color), ErrInvalidLength)
	s.Require().ErrorIs(buf.WriteBytes(s.ctx, []byte("x"), Color{}), ErrInvalidColor)
	_, err := buf.Read(io.Discard, Color{})
	s.Require().ErrorIs(err, ErrInvalidColor)
}

type failingWriter struct {
	okWrites int
	out      bytes.Buffer
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.okWrites == 0 {
		return 0, errors.New("sink is gone")
	}
	w.okWrites--
	return w.out.Write(p)
}

func (s *BufferTestSuite) TestSinkFailureKeepsUnflushedChains() {
	buf := s.newBuffer(16, 4)
	color := NewColor()
	s.write(buf, "first", color)
	s.write(buf, "second", color)

	sink := &failingWriter{okWrites: 1}
	n, err := buf.Read(sink, color)
	s.Require().ErrorIs(err, ErrSink)
	s.Equal(int64(5), n)
	s.Equal("first", sink.out.String())

	s.Equal("second", s.read(buf, color))
}

func (s *BufferTestSuite) TestStaleChainDroppedWhole() {
	buf := s.newBuffer(8, 4)
	color := NewColor()
	s.write(buf, "0123456789", color)

	// Simulate an overwrite of the second segment during the read.
	cont := buf.segment(1)
	*(*uint64)(unsafe.Pointer(&cont[sequenceOffset])) += 100
	s.write(buf, "ok", color)

	s.Equal("ok", s.read(buf, color))
	s.Equal(uint64(1), buf.Stats().StaleChains)

	events := buf.Audit().Drain()
	var stale int
	for _, e := range events {
		if e.Kind == audit.KindStale {
			stale++
		}
	}
	s.Equal(1, stale)
}

func (s *BufferTestSuite) TestStaleChainPositionMismatch() {
	buf := s.newBuffer(8, 4)
	color := NewColor()
	s.write(buf, "0123456789", color)

	tail := buf.segment(2)
	*(*uint64)(unsafe.Pointer(&tail[positionOffset])) += 8
	s.Equal("", s.read(buf, color))
	s.Equal(uint64(1), buf.Stats().StaleChains)
}

func (s *BufferTestSuite) TestSameColorReadersGetDisjointData() {
	buf := s.newBuffer(64, 8)
	color := NewColor()
	r1, err := buf.Attach(color)
	s.Require().NoError(err)
	r2, err := buf.Attach(color)
	s.Require().NoError(err)

	s.write(buf, "one", color)
	var out1, out2 bytes.Buffer
	_, err = r1.Read(&out1)
	s.Require().NoError(err)
	_, err = r2.Read(&out2)
	s.Require().NoError(err)
	s.Equal("one", out1.String()+out2.String())
	s.Equal(r1.Position(), r2.Position())
}

func (s *BufferTestSuite) TestNewReaderUsesConfiguredAllocator() {
	alloc := &ColorAllocator{}
	buf := s.newBuffer(16, 4, func(c *Config) { c.Colors = alloc })

	r, err := buf.NewReader()
	s.Require().NoError(err)
	s.Equal(uint64(1), r.Color().ID())
	s.Equal(1, buf.Stats().Readers)

	s.write(buf, "mine", r.Color())
	var out bytes.Buffer
	_, err = r.Read(&out)
	s.Require().NoError(err)
	s.Equal("mine", out.String())

	r.Detach()
	s.Equal(0, buf.Stats().Readers)
	_, err = r.Read(&out)
	s.Require().ErrorIs(err, ErrDetached)
}

func (s *BufferTestSuite) TestNewReaderOnClosedBuffer() {
	buf := s.newBuffer(16, 4)
	s.Require().NoError(buf.Close())

	r, err := buf.NewReader()
	s.Require().ErrorIs(err, ErrClosed)
	s.Nil(r)
	_, err = buf.Attach(NewColor())
	s.Require().ErrorIs(err, ErrClosed)
	s.Equal(0, buf.Stats().Readers)
}

func (s *BufferTestSuite) TestDetachReleasesOverflowProtection() {
	buf := s.newBuffer(4, 4)
	r, err := buf.Attach(NewColor())
	s.Require().NoError(err)

	s.write(buf, strings.Repeat("x", 16), r.Color())
	s.Require().ErrorIs(buf.WriteBytes(s.ctx, []byte("x"), r.Color()), ErrOverflow)
	r.Detach()
	s.Require().NoError(buf.WriteBytes(s.ctx, []byte("x"), r.Color()))
}

func (s *BufferTestSuite) TestClose() {
	buf := s.newBuffer(16, 4)
	color := NewColor()
	s.write(buf, "data", color)

	s.Require().NoError(buf.Close())
	s.Require().NoError(buf.Close())
	s.Require().ErrorIs(buf.WriteBytes(s.ctx, []byte("x"), color), ErrClosed)
	_, err := buf.Read(io.Discard, color)
	s.Require().ErrorIs(err, ErrClosed)
	s.True(buf.Stats().Closed)
}

func (s *BufferTestSuite) TestDumpSegments() {
	buf := s.newBuffer(8, 4)
	a := NewColor()
	_, err := buf.Attach(a)
	s.Require().NoError(err)
	s.write(buf, "abcdef", a)
	s.write(buf, "g", AllBuffersColor())

	var out bytes.Buffer
	buf.DumpSegments(&out)
	dump := out.String()
	s.Contains(dump, "write position 3")
	s.Contains(dump, "SLOT")
	s.Contains(dump, "head")
	s.Contains(dump, "cont")
	s.Contains(dump, "global")
	s.Contains(dump, "READER")
	s.Contains(dump, a.String())
	s.Equal(uint64(0), buf.Stats().StaleChains)
}

func (s *BufferTestSuite) TestMetrics() {
	reg := prometheus.NewRegistry()
	buf := s.newBuffer(16, 4, func(c *Config) {
		c.Name = "metrics"
		c.Registerer = reg
	})
	color := NewColor()
	s.write(buf, "abcdef", color)
	s.write(buf, "gh", color)
	s.Equal("abcdefgh", s.read(buf, color))

	s.Equal(2.0, metricValue(s.T(), reg, "txbuf_writes_total"))
	s.Equal(8.0, metricValue(s.T(), reg, "txbuf_written_bytes_total"))
	s.Equal(8.0, metricValue(s.T(), reg, "txbuf_read_bytes_total"))
	s.Equal(1.0, metricValue(s.T(), reg, "txbuf_readers"))
	s.Equal(3.0, metricValue(s.T(), reg, "txbuf_write_position"))

	// Reopening under the same name shares the series.
	again := s.newBuffer(16, 4, func(c *Config) {
		c.Name = "metrics"
		c.Registerer = reg
	})
	s.write(again, "x", color)
	s.Equal(3.0, metricValue(s.T(), reg, "txbuf_writes_total"))
}

func metricValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		m := mf.GetMetric()[0]
		switch mf.GetType() {
		case dto.MetricType_COUNTER:
			return m.GetCounter().GetValue()
		case dto.MetricType_GAUGE:
			return m.GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func giantString(n int) string {
	var sb strings.Builder
	for i := 0; sb.Len() < n; i++ {
		sb.WriteByte(byte('a' + i%26))
	}
	return sb.String()[:n]
}

func TestBufferTestSuite(t *testing.T) {
	suite.Run(t, new(BufferTestSuite))
}
