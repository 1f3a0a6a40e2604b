package page

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewSetsAddressAndSection(t *testing.T) {
	p := New(0x4000, 3)
	require.Equal(t, uintptr(0x4000), p.PA)
	require.Equal(t, 3, p.SectionIndex)
	require.Nil(t, p.Owner)
}

func TestMarkYoungThenTestAndClearYoung(t *testing.T) {
	p := New(0x4000, 0)
	require.False(t, p.TestAndClearYoung(), "fresh page starts with young unset")

	p.MarkYoung()
	require.True(t, p.TestAndClearYoung(), "first read after MarkYoung observes it set")
	require.False(t, p.TestAndClearYoung(), "clearing is destructive")
}

func TestListLinkageAccessors(t *testing.T) {
	a := New(0x1000, 0)
	b := New(0x2000, 0)

	require.False(t, a.InList())
	a.SetInList(true)
	require.True(t, a.InList())

	a.SetNext(b)
	b.SetPrev(a)
	require.Same(t, b, a.Next())
	require.Same(t, a, b.Prev())
}
