package limits

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultMatchesDesignConstants(t *testing.T) {
	l := Default()
	require.Equal(t, 16, l.Cluster)
	require.Equal(t, 32, l.LowWatermark)
	require.Equal(t, 64, l.HighWatermark)
	require.Equal(t, 8, l.MaxSections)
	require.Equal(t, 32, l.SlotsPerVAPage)
	require.Equal(t, 8, l.SlotStride)
	require.Equal(t, 128, l.MetadataRecord)
}

func TestCounterConcurrentAdd(t *testing.T) {
	var c Counter
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Add(1)
		}()
	}
	wg.Wait()
	require.Equal(t, int64(100), c.Load())
}

func TestCounterStoreOverwrites(t *testing.T) {
	var c Counter
	c.Add(5)
	c.Store(64)
	require.Equal(t, int64(64), c.Load())
}
