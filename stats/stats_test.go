package stats

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCounterIncAndAdd(t *testing.T) {
	var c Counter
	c.Inc()
	c.Inc()
	c.Add(3)
	require.Equal(t, int64(5), c.Load())
}

func TestOpcodeCountsIndependent(t *testing.T) {
	var oc OpcodeCounts
	oc.Eadd.Inc()
	oc.Block.Inc()
	oc.Block.Inc()
	require.Equal(t, int64(1), oc.Eadd.Load())
	require.Equal(t, int64(2), oc.Block.Load())
	require.Equal(t, int64(0), oc.Modt.Load())
}
