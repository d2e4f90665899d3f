package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTimeline_ReadMonotonic(t *testing.T) {
	tl := NewTimeline()
	p1 := TxnPointer{Sequence: 0}
	p2 := TxnPointer{Sequence: 1}

	id1 := tl.Assign(p1)
	id2 := tl.Assign(p2)
	require.Less(t, id1, id2)

	items, after := tl.Read(0, 10)
	require.Len(t, items, 2)
	require.Equal(t, id1, items[0].ID)
	require.Equal(t, id2, items[1].ID)
	require.Equal(t, id2, after)
}

func TestTimeline_RemoveTombstones(t *testing.T) {
	tl := NewTimeline()
	p1 := TxnPointer{Sequence: 0}
	id1 := tl.Assign(p1)
	tl.Remove(p1)

	items, _ := tl.Read(0, 10)
	require.Empty(t, items)

	got := tl.FilterRead([]uint64{id1})
	require.Empty(t, got)
}

func TestTimeline_FilterReadPreservesOrder(t *testing.T) {
	tl := NewTimeline()
	ids := make([]uint64, 5)
	for i := 0; i < 5; i++ {
		ids[i] = tl.Assign(TxnPointer{Sequence: uint64(i)})
	}

	// Request out of natural order.
	got := tl.FilterRead([]uint64{ids[3], ids[1], ids[4]})
	require.Len(t, got, 3)
	require.Equal(t, ids[3], got[0].ID)
	require.Equal(t, ids[1], got[1].ID)
	require.Equal(t, ids[4], got[2].ID)
}

func TestTimeline_EarliestLiveID(t *testing.T) {
	tl := NewTimeline()
	_, ok := tl.EarliestLiveID()
	require.False(t, ok)

	p0 := TxnPointer{Sequence: 0}
	id0 := tl.Assign(p0)
	tl.Assign(TxnPointer{Sequence: 1})

	earliest, ok := tl.EarliestLiveID()
	require.True(t, ok)
	require.Equal(t, id0, earliest)

	tl.Remove(p0)
	earliest, ok = tl.EarliestLiveID()
	require.True(t, ok)
	require.NotEqual(t, id0, earliest)
}
