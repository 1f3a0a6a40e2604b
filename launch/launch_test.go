package launch

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"epc/instr"
)

type msrWrite struct {
	i int
	v uint64
}

func TestMsrCacheSkipsUnchangedWords(t *testing.T) {
	c := NewMsrCache(1)
	var writes []msrWrite
	record := func(i int, v uint64) { writes = append(writes, msrWrite{i, v}) }

	c.apply(0, PubkeyHash{1, 2, 3, 4}, record)
	require.Len(t, writes, 4)

	writes = nil
	c.apply(0, PubkeyHash{1, 2, 3, 4}, record)
	require.Empty(t, writes, "unchanged hash must not rewrite any MSR")

	writes = nil
	c.apply(0, PubkeyHash{1, 99, 3, 4}, record)
	require.Equal(t, []msrWrite{{1, 99}}, writes)
}

func TestMsrCacheLanesAreIndependent(t *testing.T) {
	c := NewMsrCache(2)
	var writes []msrWrite
	var mu sync.Mutex
	record := func(i int, v uint64) {
		mu.Lock()
		defer mu.Unlock()
		writes = append(writes, msrWrite{i, v})
	}

	c.apply(0, PubkeyHash{1, 1, 1, 1}, record)
	c.apply(1, PubkeyHash{1, 1, 1, 1}, record)
	require.Len(t, writes, 8, "each lane caches independently")
}

func withSimulated(t *testing.T) *instr.Simulated {
	t.Helper()
	sim := instr.NewSimulated()
	prev := instr.Set
	instr.Set = sim
	t.Cleanup(func() { instr.Set = prev })
	return sim
}

func TestEinitWritesMsrsThenInits(t *testing.T) {
	withSimulated(t)
	var writes []msrWrite
	e := NewEinit(1, true, func(i int, v uint64) {
		writes = append(writes, msrWrite{i, v})
	})

	errt := e.Init(context.Background(), 0, 0x1000, 0x2000, 0x3000, PubkeyHash{5, 6, 7, 8})
	require.Equal(t, instr.Err_t(0), errt)
	require.Len(t, writes, 4)

	writes = nil
	errt = e.Init(context.Background(), 0, 0x1000, 0x2000, 0x3000, PubkeyHash{5, 6, 7, 8})
	require.Equal(t, instr.Err_t(0), errt)
	require.Empty(t, writes)
}

func TestEinitSkipsMsrCacheWhenLaunchControlDisabled(t *testing.T) {
	withSimulated(t)
	var writes []msrWrite
	e := NewEinit(1, false, func(i int, v uint64) {
		writes = append(writes, msrWrite{i, v})
	})

	errt := e.Init(context.Background(), 0, 0x1000, 0x2000, 0x3000, PubkeyHash{5, 6, 7, 8})
	require.Equal(t, instr.Err_t(0), errt)
	require.Empty(t, writes)
}

func TestEinitReportsFault(t *testing.T) {
	sim := withSimulated(t)
	e := NewEinit(1, false, func(i int, v uint64) {})

	sim.InjectFault(0x1000, 13)
	errt := e.Init(context.Background(), 0, 0x1000, 0x2000, 0x3000, PubkeyHash{})
	require.Equal(t, instr.Fault, errt)
}
