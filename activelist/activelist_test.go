package activelist

import (
	"testing"

	"github.com/stretchr/testify/require"

	"epc/page"
)

func TestPushBackOrdering(t *testing.T) {
	var l List
	a := page.New(1, 0)
	b := page.New(2, 0)
	c := page.New(3, 0)
	l.PushBack(a)
	l.PushBack(b)
	l.PushBack(c)

	require.Equal(t, 3, l.Len())
	require.Same(t, a, l.Front())
}

func TestRemoveMiddle(t *testing.T) {
	var l List
	a := page.New(1, 0)
	b := page.New(2, 0)
	c := page.New(3, 0)
	l.PushBack(a)
	l.PushBack(b)
	l.PushBack(c)

	l.Remove(b)
	require.Equal(t, 2, l.Len())
	require.False(t, b.InList())

	var order []*page.EpcPage
	l.Drain(10, func(pg *page.EpcPage) bool {
		order = append(order, pg)
		return true
	})
	require.Equal(t, []*page.EpcPage{a, c}, order)
}

func TestRotateToBackMovesElement(t *testing.T) {
	var l List
	a := page.New(1, 0)
	b := page.New(2, 0)
	l.PushBack(a)
	l.PushBack(b)

	l.RotateToBack(a)

	var order []*page.EpcPage
	l.Drain(10, func(pg *page.EpcPage) bool {
		order = append(order, pg)
		return true
	})
	require.Equal(t, []*page.EpcPage{b, a}, order)
}

func TestRemoveNotInListIsNoop(t *testing.T) {
	var l List
	a := page.New(1, 0)
	require.NotPanics(t, func() { l.Remove(a) })
}

func TestPushBackTwiceInListPanics(t *testing.T) {
	var l List
	a := page.New(1, 0)
	l.PushBack(a)
	require.Panics(t, func() { l.PushBack(a) })
}
