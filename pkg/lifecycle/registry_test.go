package lifecycle

import (
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/srediag/txbuf/pkg/buffers"
)

type RegistryTestSuite struct {
	suite.Suite
	reg *Registry
}

func (s *RegistryTestSuite) SetupTest() {
	s.reg = NewRegistry(io.Discard)
}

func (s *RegistryTestSuite) TearDownTest() {
	_ = s.reg.CloseAll()
}

func smallConfig() *buffers.Config {
	config := buffers.DefaultConfig()
	config.SegmentCount = 16
	config.SegmentSize = 8
	config.LogOutput = io.Discard
	return config
}

func (s *RegistryTestSuite) TestOpenReturnsSameBuffer() {
	a, err := s.reg.Open("bus-a", smallConfig())
	s.Require().NoError(err)
	s.Equal("bus-a", a.Name())

	again, err := s.reg.Open("bus-a", nil)
	s.Require().NoError(err)
	s.Same(a, again)
	s.Equal(16, again.Segments())

	got, ok := s.reg.Get("bus-a")
	s.True(ok)
	s.Same(a, got)
}

func (s *RegistryTestSuite) TestConcurrentOpen() {
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		got = make(map[*buffers.TransmissionBuffer]bool)
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf, err := s.reg.Open("shared", smallConfig())
			if err != nil {
				return
			}
			mu.Lock()
			got[buf] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	s.Len(got, 1)
}

func (s *RegistryTestSuite) TestOpenInvalidConfig() {
	config := smallConfig()
	config.SegmentSize = 0
	_, err := s.reg.Open("broken", config)
	s.Require().ErrorIs(err, buffers.ErrInvalidConfig)
	s.Empty(s.reg.Names())
}

func (s *RegistryTestSuite) TestCloseAndNames() {
	for _, name := range []string{"c", "a", "b"} {
		_, err := s.reg.Open(name, smallConfig())
		s.Require().NoError(err)
	}
	s.Equal([]string{"a", "b", "c"}, s.reg.Names())

	b, _ := s.reg.Get("b")
	s.Require().NoError(s.reg.Close("b"))
	s.True(b.Stats().Closed)
	s.Require().ErrorIs(s.reg.Close("b"), ErrNotFound)
	s.Equal([]string{"a", "c"}, s.reg.Names())

	s.Require().NoError(s.reg.CloseAll())
	s.Empty(s.reg.Names())
}

func TestRegistryTestSuite(t *testing.T) {
	suite.Run(t, new(RegistryTestSuite))
}
