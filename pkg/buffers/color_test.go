package buffers

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"
)

type ColorTestSuite struct {
	suite.Suite
}

func (s *ColorTestSuite) TestAllocatorIsMonotonic() {
	var a ColorAllocator
	first := a.NewColor()
	second := a.NewColor()
	s.Equal(uint64(1), first.ID())
	s.Equal(uint64(2), second.ID())
	s.NotEqual(first, second)
	s.True(first.Valid())
}

func (s *ColorTestSuite) TestConcurrentAllocationIsUnique() {
	var (
		a    ColorAllocator
		mu   sync.Mutex
		seen = make(map[Color]bool)
		wg   sync.WaitGroup
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				c := a.NewColor()
				mu.Lock()
				seen[c] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	s.Len(seen, 8000)
}

func (s *ColorTestSuite) TestGlobalColor() {
	g := AllBuffersColor()
	s.Equal(g, AllBuffersColor())
	s.True(g.IsGlobal())
	s.Equal("global", g.String())
	s.False(NewColor().IsGlobal())
	s.False(Color{}.Valid())
	s.Equal("invalid", Color{}.String())
}

func (s *ColorTestSuite) TestSees() {
	a, b := NewColor(), NewColor()
	s.True(a.sees(a.id))
	s.True(a.sees(globalColorID))
	s.False(a.sees(b.id))
	s.False(a.sees(emptyTag))
	s.True(AllBuffersColor().sees(globalColorID))
	s.False(AllBuffersColor().sees(a.id))
}

func TestColorTestSuite(t *testing.T) {
	suite.Run(t, new(ColorTestSuite))
}
