package pagetable

import (
	"testing"

	"github.com/stretchr/testify/require"

	"epc/page"
)

func TestSetGetDel(t *testing.T) {
	tbl := New(4)
	pg := page.New(0x1000, 0)

	_, ok := tbl.Get(0x1000)
	require.False(t, ok)

	tbl.Set(0x1000, pg)
	got, ok := tbl.Get(0x1000)
	require.True(t, ok)
	require.Same(t, pg, got)

	tbl.Del(0x1000)
	_, ok = tbl.Get(0x1000)
	require.False(t, ok)
}

func TestSetReplacesExisting(t *testing.T) {
	tbl := New(1)
	a := page.New(0x2000, 0)
	b := page.New(0x2000, 0)

	tbl.Set(0x2000, a)
	tbl.Set(0x2000, b)

	got, ok := tbl.Get(0x2000)
	require.True(t, ok)
	require.Same(t, b, got)
}

func TestCollidingKeysCoexist(t *testing.T) {
	// force every key into one bucket
	tbl := New(1)
	for i := uintptr(0); i < 16; i++ {
		tbl.Set(i*PageStride, page.New(i*PageStride, 0))
	}
	for i := uintptr(0); i < 16; i++ {
		pg, ok := tbl.Get(i * PageStride)
		require.True(t, ok)
		require.Equal(t, i*PageStride, pg.PA)
	}
}

const PageStride = 0x1000
