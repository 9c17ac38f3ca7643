package mesh

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequencer_Wraps(t *testing.T) {
	var s Sequencer
	assert.Equal(t, uint8(0), s.Current())

	for want := 1; want <= 255; want++ {
		assert.Equal(t, uint8(want), s.Next())
	}
	assert.Equal(t, uint8(0), s.Next())
	assert.Equal(t, uint8(1), s.Next())
}

func TestSequencer_ConcurrentNextIsUnique(t *testing.T) {
	var s Sequencer
	seen := make([]int, 256)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 32 {
				v := s.Next()
				mu.Lock()
				seen[v]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// 256 draws starting after 0 cover every value exactly once.
	for v, n := range seen {
		assert.Equal(t, 1, n, "sequence %d", v)
	}
}
